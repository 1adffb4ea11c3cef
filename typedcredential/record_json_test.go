package typedcredential

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pilacorp/go-credential-registry/fingerprint"
	"github.com/pilacorp/go-credential-registry/regerr"
)

func TestParseRecordJSON(t *testing.T) {
	digest := fingerprint.Sum([]byte("test"))

	tests := []struct {
		name     string
		protocol Protocol
		input    string
		want     Record
		wantErr  bool
	}{
		{
			name:     "v1 record",
			protocol: ProtocolV1,
			input:    `{"docHash":"` + digest.Hex() + `","studentName":"Ada","course":"Math","issueDate":1760000000}`,
			want:     Record{DocHash: digest, StudentName: "Ada", Course: "Math", IssueDate: 1760000000},
		},
		{
			name:     "v2 record with cid",
			protocol: ProtocolV2,
			input:    `{"docHash":"` + digest.Hex() + `","studentName":"Ada","course":"Math","issueDate":1760000000,"ipfsCid":"bafy"}`,
			want:     Record{DocHash: digest, StudentName: "Ada", Course: "Math", IssueDate: 1760000000, IPFSCID: "bafy"},
		},
		{
			name:     "cid rejected by v1 schema",
			protocol: ProtocolV1,
			input:    `{"docHash":"` + digest.Hex() + `","studentName":"Ada","course":"Math","issueDate":1760000000,"ipfsCid":"bafy"}`,
			wantErr:  true,
		},
		{
			name:     "empty student name",
			protocol: ProtocolV1,
			input:    `{"docHash":"` + digest.Hex() + `","studentName":"","course":"Math","issueDate":1760000000}`,
			wantErr:  true,
		},
		{
			name:     "short digest",
			protocol: ProtocolV1,
			input:    `{"docHash":"0x1234","studentName":"Ada","course":"Math","issueDate":1760000000}`,
			wantErr:  true,
		},
		{
			name:     "negative issue date",
			protocol: ProtocolV2,
			input:    `{"docHash":"` + digest.Hex() + `","studentName":"Ada","course":"Math","issueDate":-1}`,
			wantErr:  true,
		},
		{
			name:     "not json",
			protocol: ProtocolV1,
			input:    `{`,
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseRecordJSON([]byte(tt.input), tt.protocol)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, regerr.ErrInvalidInput))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
