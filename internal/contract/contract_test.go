package contract

import (
	"testing"

	"github.com/luiscore200/cotizador/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRoundTrip(t *testing.T) {
	raw := "Claro.\n```json\n" +
		`{"data": {"items": [{"name": "varilla", "description": "acero 10in", "quantity": "5"}], "address": "", "payment_method": ""}, "message": "hi"}` +
		"\n```\n"

	got := Parse(raw)

	assert.Equal(t, SourceContract, got.Source)
	assert.Equal(t, "hi", got.Message)
	assert.Equal(t, domain.Patch{
		Items: []domain.Item{{Name: "varilla", Description: "acero 10in", Quantity: "5"}},
	}, got.Data)

	_, err := Inspect(raw)
	assert.NoError(t, err)
}

func TestParseWithoutBlockFallsBackToRawText(t *testing.T) {
	raw := "Hola, ¿qué materiales necesitas?"

	got := Parse(raw)

	assert.Equal(t, SourceRawText, got.Source)
	assert.Equal(t, raw, got.Message)
	assert.True(t, got.Data.IsEmpty())
	assert.True(t, got.Degraded())
}

func TestParseInvalidJSONFallsBack(t *testing.T) {
	raw := "```json\n{\"data\": {\"address\": \"Calle 5\"}, \"message\": \n```"

	got := Parse(raw)

	assert.Equal(t, SourceRawText, got.Source)
	assert.Equal(t, raw, got.Message)
	assert.True(t, got.Data.IsEmpty())

	resp, err := Inspect(raw)
	assert.Error(t, err)
	assert.Equal(t, got, resp)
}

func TestParseWrongShapeFallsBack(t *testing.T) {
	raw := "```json\n{\"data\": {\"address\": 42}, \"message\": \"ok\"}\n```"

	got := Parse(raw)

	assert.Equal(t, SourceRawText, got.Source)
	assert.Equal(t, raw, got.Message)
}

func TestParseBlankMessageIsViolation(t *testing.T) {
	raw := "```json\n{\"data\": {\"address\": \"Calle 5\"}, \"message\": \"  \"}\n```"

	got := Parse(raw)

	assert.Equal(t, SourceRawText, got.Source)
	assert.True(t, got.Data.IsEmpty())
}

func TestParseAcceptsUntaggedFence(t *testing.T) {
	raw := "```\n{\"data\": {\"address\": \"Calle 5\"}, \"message\": \"listo\"}\n```"

	got := Parse(raw)

	require.Equal(t, SourceContract, got.Source)
	assert.Equal(t, "Calle 5", got.Data.Address)
}

func TestParsePrefersJSONBlockOverEarlierUntaggedBlock(t *testing.T) {
	raw := "Resumen:\n```\nvarilla x5\n```\n" +
		"```json\n{\"data\": {\"address\": \"Calle 5\"}, \"message\": \"listo\"}\n```"

	got := Parse(raw)

	require.Equal(t, SourceContract, got.Source)
	assert.Equal(t, "listo", got.Message)
	assert.Equal(t, "Calle 5", got.Data.Address)
}

func TestParseSkipsBlocksInOtherLanguages(t *testing.T) {
	raw := "```text\n{\"message\": \"no\"}\n```\n" +
		"```\n{\"data\": {\"payment_method\": \"efectivo\"}, \"message\": \"si\"}\n```"

	got := Parse(raw)

	require.Equal(t, SourceContract, got.Source)
	assert.Equal(t, "si", got.Message)
	assert.Equal(t, "efectivo", got.Data.PaymentMethod)
}

func TestInspectReportsMissingBlock(t *testing.T) {
	resp, err := Inspect("sin bloque")

	assert.ErrorIs(t, err, errNoBlock)
	assert.Equal(t, SourceRawText, resp.Source)
	assert.Equal(t, "sin bloque", resp.Message)
}

func TestParseUsesFirstBlock(t *testing.T) {
	raw := "```json\n{\"data\": {}, \"message\": \"primero\"}\n```\n" +
		"```json\n{\"data\": {}, \"message\": \"segundo\"}\n```"

	assert.Equal(t, "primero", Parse(raw).Message)
}

func TestParseLegacySpanishKeys(t *testing.T) {
	raw := "```json\n" + `{
  "data": {
    "materiales": [
      {"nombre": "varilla", "descripcion": "acero de 10 pulgadas", "cantidad": 5},
      {"tipo": "cemento", "descripcion": "gris", "cantidad": "3 bultos"}
    ],
    "direccion": "Calle 5",
    "metodo_pago": "transferencia"
  },
  "mensaje": "¿Algo más?"
}` + "\n```"

	got := Parse(raw)

	require.Equal(t, SourceContract, got.Source)
	assert.Equal(t, "¿Algo más?", got.Message)
	assert.Equal(t, "Calle 5", got.Data.Address)
	assert.Equal(t, "transferencia", got.Data.PaymentMethod)
	require.Len(t, got.Data.Items, 2)
	assert.Equal(t, domain.Item{Name: "varilla", Description: "acero de 10 pulgadas", Quantity: "5"}, got.Data.Items[0])
	assert.Equal(t, "cemento", got.Data.Items[1].Name)
	assert.Equal(t, "3 bultos", got.Data.Items[1].Quantity)
}

func TestParseMissingDataIsEmptyPatch(t *testing.T) {
	got := Parse("```json\n{\"message\": \"solo texto\"}\n```")

	assert.Equal(t, SourceContract, got.Source)
	assert.True(t, got.Data.IsEmpty())
}

func TestFallback(t *testing.T) {
	got := Fallback("lo siento")

	assert.Equal(t, SourceFallback, got.Source)
	assert.Equal(t, "fallback", got.Source.String())
	assert.True(t, got.Degraded())
}
