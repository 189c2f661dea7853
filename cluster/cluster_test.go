package cluster

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDensifyRoundTrip(t *testing.T) {
	assert := assert.New(t)

	for _, id := range All() {
		assert.True(id.Valid(), "%d", id)
		assert.Equal(id, Undensify(Densify(id)), "%d", id)
	}
	for d := Dense(0); d < MaxClients; d++ {
		assert.Equal(d, Densify(Undensify(d)))
	}

	assert.Equal(Dense(16), Densify(128))
	assert.Equal(Dense(19), Densify(131))
	assert.Equal(Dense(20), Densify(192))
	assert.Equal(Dense(23), Densify(195))
	assert.Equal(Dense(7), Densify(7))
	assert.Equal(ID(195), Undensify(23))

	assert.False(ID(16).Valid())
	assert.False(ID(132).Valid())
	assert.False(ID(-1).Valid())
}

func TestOffsets(t *testing.T) {
	assert := assert.New(t)

	cases := []struct {
		id       ID
		dma, tag int
	}{
		{0, 0, 0},
		{3, 0, 3},
		{4, 1, 0},
		{7, 1, 3},
		{13, 3, 1},
		{128, 0, 4},
		{131, 0, 7},
		{192, 1, 4},
		{195, 1, 7},
	}
	for _, tt := range cases {
		assert.Equal(tt.dma, DMAOffset(tt.id), "dma %d", tt.id)
		assert.Equal(tt.tag, TagOffset(tt.id), "tag %d", tt.id)
		// pure: a second call agrees
		assert.Equal(DMAOffset(tt.id), DMAOffset(tt.id))
		assert.Equal(TagOffset(tt.id), TagOffset(tt.id))
	}

	for _, id := range All() {
		assert.Equal(0, Explorer.DMAOffset(id))
		assert.Equal(int(id.Densify()), Explorer.TagOffset(id))
	}
}

func TestIOAddress(t *testing.T) {
	assert := assert.New(t)

	assert.Equal(160, IODMAID(North, 0))
	assert.Equal(163, IODMAID(North, 13))
	assert.Equal(225, IODMAID(South, 4))
	assert.Equal(InvalidDMA, IODMAID(Port(2), 4))
	assert.Equal(InvalidDMA, IODMAID(Port(-1), 4))

	assert.Equal(192, IOTagID(0))
	assert.Equal(193, IOTagID(13))
	assert.Equal(RxBase+20, Explorer.IOTagID(192))

	port, ok := IOPortOf(226)
	assert.True(ok)
	assert.Equal(South, port)
	_, ok = IOPortOf(5)
	assert.False(ok)
	assert.Equal("north", North.String())
	assert.Equal("port(7)", Port(7).String())
}

func TestSenderOf(t *testing.T) {
	for _, layout := range []Layout{Default, Explorer} {
		for _, id := range All() {
			d := layout.SenderOf(layout.LocalInterface(id), layout.IOTagID(id))
			assert.Equal(t, id.Densify(), d, "layout %+v id %d", layout, id)
		}
	}
}

func TestExternalAddress(t *testing.T) {
	assert := assert.New(t)

	assert.Equal(ID(5), Default.ExternalAddress(5, 0))
	assert.Equal(ID(130), Default.ExternalAddress(128, 2))
	assert.Equal(ID(161), Default.ExternalAddress(128, 5))
	assert.Equal(ID(193), Explorer.ExternalAddress(192, 5))
}
