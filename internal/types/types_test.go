package types

import (
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestNormalizeAddress(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{
			name:  "lowercases checksummed address",
			input: "0x52908400098527886E0F7030069857D2E4169EE7",
			want:  "0x52908400098527886e0f7030069857d2e4169ee7",
		},
		{
			name:  "trims whitespace",
			input: "  0x00000000000000000000000000000000000000aa ",
			want:  "0x00000000000000000000000000000000000000aa",
		},
		{name: "missing prefix", input: "52908400098527886E0F7030069857D2E4169EE7", wantErr: true},
		{name: "too short", input: "0x1234", wantErr: true},
		{name: "non hex", input: "0xzz908400098527886E0F7030069857D2E4169EE7", wantErr: true},
		{name: "empty", input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeAddress(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NormalizeAddress() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("NormalizeAddress() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsZeroAddress(t *testing.T) {
	if !IsZeroAddress(ZeroAddress) {
		t.Error("IsZeroAddress(ZeroAddress) = false")
	}
	if IsZeroAddress("0x00000000000000000000000000000000000000aa") {
		t.Error("IsZeroAddress() = true for non-zero address")
	}
}

// Any casing of the same 40 hex digits normalizes to one address
func TestNormalizeAddress_CaseInsensitive(t *testing.T) {
	properties := gopter.NewProperties(nil)

	const digits = "0123456789abcdefABCDEF"
	hexAddress := gen.SliceOfN(40, gen.IntRange(0, len(digits)-1)).Map(func(idx []int) string {
		var sb strings.Builder
		sb.WriteString("0x")
		for _, i := range idx {
			sb.WriteByte(digits[i])
		}
		return sb.String()
	})

	properties.Property("normalization ignores case", prop.ForAll(
		func(address string) bool {
			lower, err1 := NormalizeAddress(strings.ToLower(address))
			upper, err2 := NormalizeAddress("0x" + strings.ToUpper(address[2:]))
			return err1 == nil && err2 == nil && lower == upper && lower == strings.ToLower(address)
		},
		hexAddress,
	))

	properties.TestingRun(t)
}
