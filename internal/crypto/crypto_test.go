package crypto

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testDomain = NewDomain(31337, common.HexToAddress("0x00000000000000000000000000000000000000aa"))

func TestSignCall_RoundTrip(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)
	s, err := NewSigner("0x"+key, testDomain)
	require.NoError(t, err)

	call := Call{Method: "post", Path: "/api/offers", Body: []byte(`{"x":1}`), Timestamp: 42}
	sig, err := s.SignCall(call)
	require.NoError(t, err)

	call.From = s.Address()
	got, err := testDomain.Recover(call, sig)
	require.NoError(t, err)
	assert.Equal(t, s.Address(), got)
	assert.NoError(t, testDomain.Verify(call, sig))

	// Method case does not matter, every other field does.
	call.Method = "POST"
	assert.NoError(t, testDomain.Verify(call, sig))

	tampered := call
	tampered.Body = []byte(`{"x":2}`)
	assert.ErrorIs(t, testDomain.Verify(tampered, sig), ErrSignerMismatch)

	otherChain := NewDomain(1, testDomain.VerifyingContract)
	assert.ErrorIs(t, otherChain.Verify(call, sig), ErrSignerMismatch)
}

func TestRecover_Malformed(t *testing.T) {
	_, err := testDomain.Recover(Call{}, "0x1234")
	assert.ErrorIs(t, err, ErrInvalidSignature)
	_, err = testDomain.Recover(Call{}, "not hex")
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestKeyFile_RoundTrip(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)

	data, err := EncryptKey(key, "hunter2")
	require.NoError(t, err)

	got, err := DecryptKey(data, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, key, got)

	_, err = DecryptKey(data, "wrong")
	assert.Error(t, err)

	_, err = EncryptKey(key, "")
	assert.Error(t, err)
}

func TestLoadSigner(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)
	data, err := EncryptKey(key, "pw")
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "key.json")
	require.NoError(t, os.WriteFile(path, data, 0o600))

	fromFile, err := LoadSigner(KeySource{KeyFile: path, Password: "pw"}, testDomain)
	require.NoError(t, err)
	fromRaw, err := LoadSigner(KeySource{RawKey: key}, testDomain)
	require.NoError(t, err)
	assert.Equal(t, fromRaw.Address(), fromFile.Address())

	_, err = LoadSigner(KeySource{}, testDomain)
	assert.ErrorIs(t, err, ErrNoKey)
	assert.True(t, KeySource{}.Empty())
}
