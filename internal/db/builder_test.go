package db

import (
	"strings"
	"testing"
)

func TestIndexBuilder_PointIndex(t *testing.T) {
	idx, err := NewIndex("vecfuse:vendors-raw:idx").
		Prefix("vecfuse:vendors-raw:").
		Tag("source").
		Numeric("__id").
		VectorHNSW("__vector", 1536, DistanceCosine, 16, 200).
		Build()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if idx.StorageType != StorageHash {
		t.Errorf("storage = %q, want HASH", idx.StorageType)
	}
	if len(idx.Fields) != 3 {
		t.Fatalf("fields count = %d, want 3", len(idx.Fields))
	}
	f := idx.Fields[2]
	if f.VectorAlgo != VectorHNSW || f.VectorDim != 1536 || f.VectorDistance != DistanceCosine {
		t.Errorf("unexpected vector field: %+v", f)
	}
	if f.VectorM != 16 || f.VectorEFConstruct != 200 {
		t.Errorf("unexpected HNSW params: M=%d EF=%d", f.VectorM, f.VectorEFConstruct)
	}
}

func TestIndexBuilder_VectorFlat(t *testing.T) {
	idx, err := NewIndex("flat-idx").
		Prefix("emb:").
		VectorFlat("__vector", 384, DistanceCosine).
		Build()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if idx.Fields[0].VectorAlgo != VectorFlat {
		t.Errorf("algo = %q, want FLAT", idx.Fields[0].VectorAlgo)
	}
}

func TestIndexBuilder_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		builder func() (*IndexDefinition, error)
		wantErr string
	}{
		{
			name: "empty name",
			builder: func() (*IndexDefinition, error) {
				return NewIndex("").Tag("x").Build()
			},
			wantErr: "index name is required",
		},
		{
			name: "no fields",
			builder: func() (*IndexDefinition, error) {
				return NewIndex("idx").Build()
			},
			wantErr: "at least one field",
		},
		{
			name: "vector without dim",
			builder: func() (*IndexDefinition, error) {
				return NewIndex("idx").VectorFlat("v", 0, DistanceCosine).Build()
			},
			wantErr: "positive DIM",
		},
		{
			name: "invalid characters",
			builder: func() (*IndexDefinition, error) {
				return NewIndex("idx with spaces").Tag("x").Build()
			},
			wantErr: "invalid characters",
		},
		{
			name: "duplicate field",
			builder: func() (*IndexDefinition, error) {
				return NewIndex("idx").Tag("source").Numeric("source").Build()
			},
			wantErr: "duplicate field",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.builder()
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("got error %q, want containing %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestIndexDefinition_String(t *testing.T) {
	idx, err := NewIndex("my-idx").
		Prefix("p:").
		Tag("source").
		VectorFlat("__vector", 512, DistanceCosine).
		Build()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := "FT.CREATE my-idx ON HASH PREFIX p: SCHEMA source TAG __vector VECTOR FLAT DIM 512"
	if got := idx.String(); got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestIsValidIdentifier(t *testing.T) {
	for _, s := range []string{"vecfuse:fuel-me-raw:idx", "a_b", "v1.2"} {
		if !IsValidIdentifier(s) {
			t.Errorf("expected %q to be valid", s)
		}
	}
	for _, s := range []string{"", "a b", "a*b", "a{b}"} {
		if IsValidIdentifier(s) {
			t.Errorf("expected %q to be invalid", s)
		}
	}
}

func TestError_Unwrap(t *testing.T) {
	err := &Error{Op: OpSearch, Err: ErrIndexNotFound}
	if err.Error() != "FT.SEARCH: db: index not found" {
		t.Errorf("unexpected message %q", err.Error())
	}
	if err.Unwrap() != ErrIndexNotFound {
		t.Error("expected unwrap to sentinel")
	}
}
