package services

import "fmt"

const basisPoints = 10000

// RevenueSplit divides a gross amount between reader and platform.
type RevenueSplit struct {
	platformBps int64
}

// NewRevenueSplit returns a calculator taking platformBps/10000 for the platform.
func NewRevenueSplit(platformBps int64) (*RevenueSplit, error) {
	if platformBps < 0 || platformBps > basisPoints {
		return nil, fmt.Errorf("platform take rate must be within [0, %d] basis points, got %d", basisPoints, platformBps)
	}
	return &RevenueSplit{platformBps: platformBps}, nil
}

// Split returns shares that always sum to amount. The reader share is rounded
// down so any remainder lands on the platform.
func (r *RevenueSplit) Split(amount int64) (readerShare, platformShare int64) {
	if amount <= 0 {
		return 0, 0
	}
	readerShare = amount * (basisPoints - r.platformBps) / basisPoints
	return readerShare, amount - readerShare
}

// PlatformBps is the configured platform take rate.
func (r *RevenueSplit) PlatformBps() int64 { return r.platformBps }
