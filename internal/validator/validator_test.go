package validator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragcore/internal/ragerr"
)

func TestValidateTextLenient(t *testing.T) {
	res, err := Validate("notes.md", []byte("# Title\n\nSome *markdown* text."))
	require.NoError(t, err)
	assert.Equal(t, FormatText, res.Format)
}

func TestValidateRejectsNoExtension(t *testing.T) {
	_, err := Validate("README", []byte("hello"))
	require.Error(t, err)
	assert.Equal(t, ragerr.KindValidation, ragerr.KindOf(err))
}

func TestValidateRejectsUnsupportedExtension(t *testing.T) {
	_, err := Validate("archive.zip", []byte("PK\x03\x04"))
	require.Error(t, err)
	assert.Equal(t, ragerr.KindValidation, ragerr.KindOf(err))
}

func TestValidateRejectsOversize(t *testing.T) {
	big := make([]byte, MaxFileSize+1)
	_, err := Validate("big.txt", big)
	require.Error(t, err)
	assert.Equal(t, ragerr.KindFileTooLarge, ragerr.KindOf(err))
	assert.Equal(t, 413, ragerr.HTTPStatus(ragerr.KindOf(err)))
}

func TestValidateStructuredJSON(t *testing.T) {
	res, err := Validate("doc.json", []byte(`{"a": 1, "b": [1,2,3]}`))
	require.NoError(t, err)
	assert.Equal(t, FormatJSON, res.Format)
	assert.NotNil(t, res.Parsed)
}

func TestValidateStructuredJSONRejectsBadSyntax(t *testing.T) {
	_, err := Validate("doc.json", []byte(`{"a": `))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line")
	assert.Contains(t, err.Error(), "column")
}

func TestValidateStructuredXMLRejectsBadSyntax(t *testing.T) {
	_, err := Validate("doc.xml", []byte(`<root><a>1</a>`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line")
	assert.Contains(t, err.Error(), "column")
}

func TestValidateStructuredYAMLRejectsBadSyntax(t *testing.T) {
	_, err := Validate("doc.yaml", []byte("a: [1, 2\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line")
}

func TestValidateStructuredYAML(t *testing.T) {
	res, err := Validate("doc.yaml", []byte("a: 1\nb:\n  - x\n  - y\n"))
	require.NoError(t, err)
	assert.Equal(t, FormatYAML, res.Format)
}

func TestValidateStructuredXML(t *testing.T) {
	res, err := Validate("doc.xml", []byte(`<root><a>1</a></root>`))
	require.NoError(t, err)
	assert.Equal(t, FormatXML, res.Format)
}

func TestValidateRejectsNonUTF8Text(t *testing.T) {
	_, err := Validate("bad.txt", []byte{0xff, 0xfe, 0x00, 0x01})
	require.Error(t, err)
}

func TestValidateStrictPDFRejectsMismatchedMagicBytes(t *testing.T) {
	_, err := Validate("fake.pdf", []byte("not actually a pdf"))
	require.Error(t, err)
	assert.Equal(t, ragerr.KindValidation, ragerr.KindOf(err))
}
