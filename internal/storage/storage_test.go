package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleanEndpoint(t *testing.T) {
	tests := []struct {
		in         string
		secure     bool
		want       string
		wantSecure bool
		wantErr    bool
	}{
		{in: "localhost:9000", secure: false, want: "localhost:9000"},
		{in: "minio.local", secure: true, want: "minio.local", wantSecure: true},
		{in: "http://localhost:9000", secure: true, want: "localhost:9000"},
		{in: "https://s3.example.com/", want: "s3.example.com", wantSecure: true},
		{in: "https://s3.example.com/bucket", wantErr: true},
		{in: "localhost:9000/bucket", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		got, secure, err := cleanEndpoint(tt.in, tt.secure)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
		assert.Equal(t, tt.wantSecure, secure, tt.in)
	}
}

func TestAccountFromHost(t *testing.T) {
	assert.Equal(t, "myaccount", accountFromHost("myaccount.blob.core.windows.net"))
	assert.Equal(t, "localhost", accountFromHost("localhost"))
}

func TestNewAzureClientValidatesURL(t *testing.T) {
	_, err := NewAzureClient(Config{Kind: KindAzure, URL: "https://acct.blob.core.windows.net", Auth: AuthAnonymous})
	assert.Error(t, err)

	_, err = NewAzureClient(Config{Kind: KindAzure, URL: "https://acct.blob.core.windows.net/c", Auth: "token"})
	assert.Error(t, err)
}

func TestNewAzureClientAnonymousName(t *testing.T) {
	c, err := NewAzureClient(Config{
		Kind: KindAzure,
		URL:  "https://acct.blob.core.windows.net/dicom?sv=2022&sig=secret",
		Auth: AuthAnonymous,
	})
	require.NoError(t, err)
	assert.Equal(t, "https://acct.blob.core.windows.net/dicom", c.Name())
}

func TestNewSourceKinds(t *testing.T) {
	src, err := New(Config{Kind: KindMinIO, URL: "localhost:9000", Bucket: "images"})
	require.NoError(t, err)
	assert.Equal(t, "s3://localhost:9000/images", src.Name())

	_, err = New(Config{Kind: KindMinIO, URL: "localhost:9000"})
	assert.Error(t, err)

	_, err = New(Config{Kind: "ftp"})
	assert.Error(t, err)
}
