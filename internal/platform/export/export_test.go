package export

import (
	"bytes"
	"encoding/csv"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func sample() Table {
	return Table{
		Sheet:   "Rates",
		Headers: []string{"Ward", "VAP", "Cases", "Validated"},
		Rows: [][]any{
			{"icu", 100.0, 1, true},
			{"nicu", 0.0, 0, false},
		},
	}
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, sample()))

	recs, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, []string{"Ward", "VAP", "Cases", "Validated"}, recs[0])
	assert.Equal(t, []string{"icu", "100.00", "1", "yes"}, recs[1])
	assert.Equal(t, []string{"nicu", "0.00", "0", "no"}, recs[2])
}

func TestXLSX(t *testing.T) {
	second := Table{Sheet: "Counts", Headers: []string{"Ward"}, Rows: [][]any{{"icu"}}}
	data, err := XLSX(sample(), second)
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{"Rates", "Counts"}, f.GetSheetList())
	v, err := f.GetCellValue("Rates", "A2")
	require.NoError(t, err)
	assert.Equal(t, "icu", v)
	v, err = f.GetCellValue("Rates", "B2")
	require.NoError(t, err)
	assert.Equal(t, "100", v)
	v, err = f.GetCellValue("Counts", "A1")
	require.NoError(t, err)
	assert.Equal(t, "Ward", v)
}

func TestXLSX_Errors(t *testing.T) {
	_, err := XLSX()
	assert.Error(t, err)
	_, err = XLSX(Table{Headers: []string{"a"}})
	assert.Error(t, err)
}

func TestNegotiate(t *testing.T) {
	for in, want := range map[string]string{"": FormatCSV, "CSV": FormatCSV, "xlsx": FormatXLSX} {
		got, err := Negotiate(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}
	_, err := Negotiate("pdf")
	assert.Error(t, err)
}

func TestSend(t *testing.T) {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)

	require.NoError(t, Send(c, FormatCSV, "rates", sample()))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, ContentTypeCSV, rec.Header().Get(echo.HeaderContentType))
	assert.Contains(t, rec.Header().Get(echo.HeaderContentDisposition), `rates.csv`)

	rec = httptest.NewRecorder()
	c = e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
	require.NoError(t, Send(c, FormatXLSX, "rates", sample()))
	assert.Equal(t, ContentTypeXLSX, rec.Header().Get(echo.HeaderContentType))
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("PK")))
}
