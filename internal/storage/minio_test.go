package storage

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCleanEndpoint(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "https://some.ceph/", want: "some.ceph"},
		{in: "http://localhost:9000", want: "localhost:9000"},
		{in: "minio:9000", want: "minio:9000"},
		{in: "https://some.ceph/bucket", wantErr: true},
		{in: "some.ceph/bucket", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := cleanEndpoint(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestNewMinIOClient(t *testing.T) {
	_, err := NewMinIOClient(Config{AccessKey: "AAA", SecretKey: "BBB"})
	require.NoError(t, err)

	_, err = NewMinIOClient(Config{Endpoint: "https://some.external/", AccessKey: "AAA", SecretKey: "BBB", Region: DefaultRegion, SignatureVersion: "s3"})
	require.NoError(t, err)

	_, err = NewMinIOClient(Config{Endpoint: "https://some.external/path", AccessKey: "AAA", SecretKey: "BBB"})
	require.Error(t, err)
}
