package model

import (
	"encoding/json"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUint256_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    *big.Int
		wantErr bool
	}{
		{name: "zero number", input: `0`, want: big.NewInt(0)},
		{name: "number", input: `42`, want: big.NewInt(42)},
		{name: "decimal string", input: `"7"`, want: big.NewInt(7)},
		{name: "hex string", input: `"0x1f"`, want: big.NewInt(31)},
		{name: "fraction", input: `1.5`, wantErr: true},
		{name: "exponent", input: `1e3`, wantErr: true},
		{name: "negative", input: `-1`, wantErr: true},
		{name: "word", input: `"one"`, wantErr: true},
		{name: "empty string", input: `""`, wantErr: true},
		{name: "too large", input: `"0x1` + "0000000000000000000000000000000000000000000000000000000000000000" + `"`, wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var u Uint256
			err := json.Unmarshal([]byte(tt.input), &u)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, 0, tt.want.Cmp(u.BigInt()))
		})
	}
}

func TestRelayPayload_MissingVersusZero(t *testing.T) {
	t.Parallel()

	var withZero RelayPayload
	require.NoError(t, json.Unmarshal([]byte(`{"tier":0,"nonce":"0"}`), &withZero))
	require.NotNil(t, withZero.Tier)
	require.NotNil(t, withZero.Nonce)
	assert.Equal(t, int64(0), withZero.Tier.BigInt().Int64())

	var withNull RelayPayload
	require.NoError(t, json.Unmarshal([]byte(`{"tier":null}`), &withNull))
	assert.Nil(t, withNull.Tier)
	assert.Nil(t, withNull.Nonce)
}
