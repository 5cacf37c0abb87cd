package sign

import "testing"

func TestComputeKnownValues(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		secret    string
		timestamp int64
		want      string
	}{
		{
			name:      "reference secret",
			secret:    "Gf55G2oRdxXqMtULRAGBY",
			timestamp: 1700000000,
			want:      "Lcu4B+h6DUSkGsrS7Io7TEtCJJM916NzSwKyh6riZF4=",
		},
		{
			name:      "timestamp changes signature",
			secret:    "Gf55G2oRdxXqMtULRAGBY",
			timestamp: 1700000001,
			want:      "jfZWb6olYIs/xQBCpigmi5j0mJoTVQQQgfuriae/TOc=",
		},
		{
			name:      "secret changes signature",
			secret:    "other-secret",
			timestamp: 1700000000,
			want:      "CsekdnVRew3Kc6cuploXuJbf2RUxbZ21emZTOmVTN9s=",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got, err := Compute(tt.secret, tt.timestamp)
			if err != nil {
				t.Fatalf("Compute error: %v", err)
			}
			if got.Sign != tt.want {
				t.Fatalf("Sign = %q, want %q", got.Sign, tt.want)
			}
			if got.Timestamp != tt.timestamp {
				t.Fatalf("Timestamp = %d, want %d", got.Timestamp, tt.timestamp)
			}
		})
	}
}

func TestComputeDeterministic(t *testing.T) {
	t.Parallel()
	a, err := Compute("s3cret", 1234567890)
	if err != nil {
		t.Fatalf("Compute error: %v", err)
	}
	b, err := Compute("s3cret", 1234567890)
	if err != nil {
		t.Fatalf("Compute error: %v", err)
	}
	if a != b {
		t.Fatalf("signatures differ for identical inputs: %v vs %v", a, b)
	}
}

func TestComputeEmptySecret(t *testing.T) {
	t.Parallel()
	if _, err := Compute("", 1700000000); err == nil {
		t.Fatal("expected error for empty secret")
	}
}
