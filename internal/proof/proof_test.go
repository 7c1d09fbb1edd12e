package proof

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeCanonicalReceipts(t *testing.T) {
	res := Normalize(LinesInput([]string{"CMD: cargo test", "LINK: https://ci.example/run/1"}), PolicyLenient)
	require.Len(t, res.Receipts, 2)
	require.True(t, res.HasNonPlaceholder)
	require.True(t, res.AxisPresent[AxisTests])
	require.True(t, HasCMDAndLink(res.Receipts))
}

func TestNormalizeBareCommandAndURL(t *testing.T) {
	res := Normalize(LinesInput([]string{"- cargo test", "> https://ci.example/run/2"}), PolicyLenient)
	require.Len(t, res.Receipts, 2)
	require.Equal(t, KindCMD, res.Receipts[0].Kind)
	require.Equal(t, KindLink, res.Receipts[1].Kind)
}

func TestNormalizePlaceholderIgnored(t *testing.T) {
	res := Normalize(LinesInput([]string{"CMD: <fill command>", "LINK: <tbd>"}), PolicyLenient)
	require.Len(t, res.Receipts, 2)
	require.False(t, res.HasNonPlaceholder)
	require.False(t, res.AxisPresent[AxisTests])
}

func TestNormalizeStrictAmbiguous(t *testing.T) {
	res := Normalize(TextInput("only some prose, no receipts here"), PolicyStrict)
	require.True(t, res.Ambiguous)
}

func TestNormalizeLenientSalvageFromNote(t *testing.T) {
	receipts := SalvageFromText("closed it out.\nCMD: cargo test\nLINK: https://ci.example/run/2\nthanks")
	require.Len(t, receipts, 2)
}

func TestNormalizeAxisTag(t *testing.T) {
	res := Normalize(LinesInput([]string{"SEC:https://scanner.example/report/9"}), PolicyLenient)
	require.Len(t, res.Receipts, 1)
	require.Equal(t, AxisSecurity, res.Receipts[0].TaggedAxis)
	require.True(t, res.AxisPresent[AxisSecurity])
	require.True(t, res.AxisPresent[AxisTests])
}

func TestNormalizeFileReceipt(t *testing.T) {
	res := Normalize(LinesInput([]string{"FILE:runner/JOB-1/stderr"}), PolicyLenient)
	require.Len(t, res.Receipts, 1)
	require.Equal(t, KindFile, res.Receipts[0].Kind)
	require.True(t, res.AxisPresent[AxisTests])
}

func TestNormalizeOrdinalPrefix(t *testing.T) {
	res := Normalize(LinesInput([]string{"1. CMD: go test ./..."}), PolicyLenient)
	require.Len(t, res.Receipts, 1)
	require.Equal(t, "go test ./...", res.Receipts[0].Payload)
}

func TestNormalizeStructuredInput(t *testing.T) {
	res := Normalize(StructuredInput([]string{"cargo test"}, []string{"https://ci.example/run/3"}), PolicyLenient)
	require.Len(t, res.Receipts, 2)
	require.True(t, HasCMDAndLink(res.Receipts))
}

func TestHasCMDAndLinkRequiresBoth(t *testing.T) {
	res := Normalize(LinesInput([]string{"CMD: cargo test"}), PolicyLenient)
	require.False(t, HasCMDAndLink(res.Receipts))
}
