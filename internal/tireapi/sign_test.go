package tireapi

import (
	"crypto/md5"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSignDeterministicRegardlessOfMapOrder(t *testing.T) {
	headers := map[string]string{"nonce": "abc", "clientId": "c1", "timestamp": "100"}

	sig1 := Sign(headers, `{"a":1}`, map[string][]string{"id": {"3", "1", "2"}}, []string{"b", "a"}, "key")
	sig2 := Sign(headers, `{"a":1}`, map[string][]string{"id": {"2", "1", "3"}}, []string{"a", "b"}, "key")

	require.Equal(t, sig1, sig2)
	require.Len(t, sig1, 32)
}

func TestSignMatchesExpectedConcatenation(t *testing.T) {
	headers := map[string]string{"clientId": "c1", "nonce": "n1"}
	body := `{"vehicleId":"T-100"}`
	params := map[string][]string{"id": {"2", "1"}}
	paths := []string{"p2", "p1"}

	raw := "clientId=c1&nonce=n1&" + body + "&" + "id=1,2&" + "p1,p2&" + "key"
	sum := md5.Sum([]byte(raw))
	expected := hex.EncodeToString(sum[:])

	require.Equal(t, expected, Sign(headers, body, params, paths, "key"))
}

func TestSignOmitsEmptyComponents(t *testing.T) {
	sum := md5.Sum([]byte("key"))
	expected := hex.EncodeToString(sum[:])

	require.Equal(t, expected, Sign(nil, "", nil, nil, "key"))
}
