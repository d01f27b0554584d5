package model

import (
	"encoding/binary"
	"math"

	"github.com/cespare/xxhash/v2"
)

// Dataset is a named price series, e.g. one asset's daily bars.
type Dataset struct {
	Name   string
	Series *Series
}

// Fingerprint hashes the bars of the dataset. Two datasets with identical
// timestamps and OHLCV values share a fingerprint regardless of name.
func (d Dataset) Fingerprint() uint64 {
	h := xxhash.New()
	var buf [48]byte
	for i := range d.Series.Bars {
		b := &d.Series.Bars[i]
		binary.LittleEndian.PutUint64(buf[0:], uint64(b.Time.UnixNano()))
		binary.LittleEndian.PutUint64(buf[8:], math.Float64bits(b.Open))
		binary.LittleEndian.PutUint64(buf[16:], math.Float64bits(b.High))
		binary.LittleEndian.PutUint64(buf[24:], math.Float64bits(b.Low))
		binary.LittleEndian.PutUint64(buf[32:], math.Float64bits(b.Close))
		binary.LittleEndian.PutUint64(buf[40:], math.Float64bits(b.Volume))
		h.Write(buf[:])
	}
	return h.Sum64()
}
