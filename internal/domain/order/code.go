package order

import (
	"crypto/rand"
	"io"
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
)

// codeAlphabet omits 0/O and 1/I so codes survive being read aloud.
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const (
	DefaultCodeLength = 8

	codeFilterCapacity = 1_000_000
	codeFilterFPR      = 0.001
	// maxDraws bounds how often a candidate flagged by the filter is redrawn.
	maxDraws = 16
)

// CodeGenerator produces short human-readable order codes. Codes known to be
// stored are remembered in a bloom filter so repeats are skipped before the
// database is asked; the database stays the source of truth.
type CodeGenerator struct {
	length int
	rand   io.Reader

	mu     sync.Mutex
	issued *bloom.BloomFilter
}

// NewCodeGenerator returns a generator for codes of the given length.
func NewCodeGenerator(length int) *CodeGenerator {
	if length <= 0 {
		length = DefaultCodeLength
	}
	return &CodeGenerator{
		length: length,
		rand:   rand.Reader,
		issued: bloom.NewWithEstimates(codeFilterCapacity, codeFilterFPR),
	}
}

// Next draws a candidate code not yet remembered by this generator.
func (g *CodeGenerator) Next() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	var code string
	for range maxDraws {
		c, err := g.draw()
		if err != nil {
			return "", err
		}
		code = c
		if !g.issued.TestString(code) {
			break
		}
	}
	return code, nil
}

// Remember records codes known to be stored.
func (g *CodeGenerator) Remember(codes ...string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, c := range codes {
		g.issued.AddString(c)
	}
}

func (g *CodeGenerator) draw() (string, error) {
	buf := make([]byte, g.length)
	if _, err := io.ReadFull(g.rand, buf); err != nil {
		return "", errors.Wrap(err, "read random")
	}
	// 256 is a multiple of len(codeAlphabet), so the modulo is unbiased.
	for i, b := range buf {
		buf[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	return string(buf), nil
}
