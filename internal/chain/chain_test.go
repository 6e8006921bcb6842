package chain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/poolwatch/internal/domain"
)

func TestNormalize(t *testing.T) {
	cases := map[string]string{
		"ETH":         Ethereum,
		" ethereum ":  Ethereum,
		"sol":         Solana,
		"polygon_pos": Polygon,
		"bsc":         BSC,
		"unknownnet":  "unknownnet",
		"":            "",
	}
	for in, want := range cases {
		assert.Equal(t, want, Normalize(in), "input %q", in)
	}
}

func TestNetworkRoundTrip(t *testing.T) {
	assert.Equal(t, "eth", Network(Ethereum))
	assert.Equal(t, "polygon_pos", Network("matic"))
	assert.Equal(t, "solana", Network(Solana))

	for _, c := range []string{Ethereum, BSC, Solana, Base, Polygon, Avalanche} {
		assert.Equal(t, c, FromNetwork(Network(c)))
	}
}

func TestValidateAddress(t *testing.T) {
	require.NoError(t, ValidateAddress(Ethereum, "0x88e6A0c2dDD26FEEb64F039a2c41296FcB3f5640"))
	require.NoError(t, ValidateAddress(BSC, "0x58f876857a02d6762e0101bb5c46a8c1ed44dc16"))
	require.NoError(t, ValidateAddress(Solana, "So11111111111111111111111111111111111111112"))
	require.NoError(t, ValidateAddress("ton", "EQAnything"))

	for _, tc := range []struct{ chain, addr string }{
		{Ethereum, "0x123"},
		{Base, "not-an-address"},
		{Solana, "0x88e6A0c2dDD26FEEb64F039a2c41296FcB3f5640"},
		{Solana, "abc"},
		{"ton", "  "},
	} {
		err := ValidateAddress(tc.chain, tc.addr)
		assert.ErrorIs(t, err, domain.ErrInvalidAddress, "%s %q", tc.chain, tc.addr)
	}
}
