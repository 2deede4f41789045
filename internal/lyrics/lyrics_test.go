package lyrics

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNoopProvider_AlwaysReturnsNotAvailable(t *testing.T) {
	var p Provider = NoopProvider{}
	lines, err := p.Lyrics(context.Background(), "some-track")
	assert.Nil(t, lines)
	assert.ErrorIs(t, err, ErrNotAvailable)
}
