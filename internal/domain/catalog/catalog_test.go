package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProductAvailable(t *testing.T) {
	sized := &Product{ID: "tee", Stock: 99, Sizes: []ProductSize{{Size: SizeM, Stock: 5}, {Size: SizeL, Stock: 0}}}
	plain := &Product{ID: "mug", Stock: 7}

	n, ok := sized.Available(SizeM)
	assert.True(t, ok)
	assert.Equal(t, 5, n)

	_, ok = sized.Available(SizeXL)
	assert.False(t, ok, "unknown size variant")

	_, ok = sized.Available(SizeNone)
	assert.False(t, ok, "sized products require a size")

	n, ok = plain.Available(SizeNone)
	assert.True(t, ok)
	assert.Equal(t, 7, n)

	_, ok = plain.Available(SizeM)
	assert.False(t, ok, "sizeless products reject a size")
}

func TestSizeValid(t *testing.T) {
	assert.True(t, SizeNone.Valid())
	assert.True(t, SizeXXL.Valid())
	assert.False(t, Size("XXXL").Valid())
}
