package contract

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/luiscore200/cotizador/internal/domain"
)

var (
	errNoBlock   = errors.New("no fenced json block")
	errNoMessage = errors.New("contract message is empty")
)

// wireResponse accepts both the canonical keys and the Spanish keys older
// prompts asked for.
type wireResponse struct {
	Data    *wireData `json:"data"`
	Message string    `json:"message"`
	Mensaje string    `json:"mensaje"`
}

type wireData struct {
	Items         []wireItem `json:"items"`
	Materiales    []wireItem `json:"materiales"`
	Address       string     `json:"address"`
	Direccion     string     `json:"direccion"`
	PaymentMethod string     `json:"payment_method"`
	PaymentCamel  string     `json:"paymentMethod"`
	MetodoPago    string     `json:"metodo_pago"`
}

type wireItem struct {
	Name        string   `json:"name"`
	Nombre      string   `json:"nombre"`
	Tipo        string   `json:"tipo"`
	Description string   `json:"description"`
	Descripcion string   `json:"descripcion"`
	Quantity    quantity `json:"quantity"`
	Cantidad    quantity `json:"cantidad"`
}

func (d *wireData) patch() domain.Patch {
	if d == nil {
		return domain.Patch{}
	}

	src := d.Items
	if len(src) == 0 {
		src = d.Materiales
	}
	var items []domain.Item
	for _, it := range src {
		items = append(items, domain.Item{
			Name:        firstNonEmpty(it.Name, it.Nombre, it.Tipo),
			Description: firstNonEmpty(it.Description, it.Descripcion),
			Quantity:    firstNonEmpty(string(it.Quantity), string(it.Cantidad)),
		})
	}

	return domain.Patch{
		Items:         items,
		Address:       firstNonEmpty(d.Address, d.Direccion),
		PaymentMethod: firstNonEmpty(d.PaymentMethod, d.PaymentCamel, d.MetodoPago),
	}
}

// quantity decodes from either a JSON string or a JSON number.
type quantity string

func (q *quantity) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*q = quantity(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("quantity must be a string or number: %s", b)
	}
	*q = quantity(n.String())
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
