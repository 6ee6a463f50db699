package pivots

import (
	"time"

	"pivotscope/internal/models"
)

// Kind says whether a pivot is the bucket's high or its low.
type Kind string

const (
	KindHigh Kind = "high"
	KindLow  Kind = "low"
)

// Other returns the opposite kind.
func (k Kind) Other() Kind {
	if k == KindHigh {
		return KindLow
	}
	return KindHigh
}

// PivotPair is a bucket's chronologically ordered extremes. Exactly one of P1
// and P2 is the bucket high and the other the bucket low.
type PivotPair struct {
	Bucket  BucketKey `json:"bucket"`
	P1Slot  int       `json:"p1_slot"`
	P2Slot  int       `json:"p2_slot"`
	P1Time  time.Time `json:"p1_time"`
	P2Time  time.Time `json:"p2_time"`
	P1Kind  Kind      `json:"p1_kind"`
	P2Kind  Kind      `json:"p2_kind"`
	P1Price float64   `json:"p1_price"`
	P2Price float64   `json:"p2_price"`
}

// Locate finds the P1/P2 pair of one bucket's candles, which must be in time
// order. The high is the first candle with the maximum high and the low is
// the first candle with the minimum low. When the high precedes the low the
// high is P1; otherwise the low is P1, which also settles the case where both
// extremes sit on the same candle. An empty input reports false.
func Locate(candles []models.Candle, slots SlotGranularity) (PivotPair, bool) {
	if len(candles) == 0 {
		return PivotPair{}, false
	}

	hi, lo := 0, 0
	for i := 1; i < len(candles); i++ {
		if candles[i].High > candles[hi].High {
			hi = i
		}
		if candles[i].Low < candles[lo].Low {
			lo = i
		}
	}

	high, low := candles[hi], candles[lo]
	first, second := low, high
	firstKind := KindLow
	firstPrice, secondPrice := low.Low, high.High
	if high.Timestamp.Before(low.Timestamp) {
		first, second = high, low
		firstKind = KindHigh
		firstPrice, secondPrice = high.High, low.Low
	}

	return PivotPair{
		P1Slot:  slots.Slot(first.Timestamp),
		P2Slot:  slots.Slot(second.Timestamp),
		P1Time:  first.Timestamp,
		P2Time:  second.Timestamp,
		P1Kind:  firstKind,
		P2Kind:  firstKind.Other(),
		P1Price: firstPrice,
		P2Price: secondPrice,
	}, true
}

// LocateAll runs Locate over every bucket, skipping empty ones.
func LocateAll(buckets []Bucket, slots SlotGranularity) []PivotPair {
	pairs := make([]PivotPair, 0, len(buckets))
	for _, b := range buckets {
		pair, ok := Locate(b.Candles, slots)
		if !ok {
			continue
		}
		pair.Bucket = b.Key
		pairs = append(pairs, pair)
	}
	return pairs
}
