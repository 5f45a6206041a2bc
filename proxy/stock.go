package proxy

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// StockLine is one pharmacy stock row as the inventory service reports it.
type StockLine struct {
	ID             int    `json:"id"`
	PharmacyID     int    `json:"pharmacy_id"`
	MedicationID   int    `json:"medication_id"`
	MedicationName string `json:"medication_name"`
	Quantity       int    `json:"quantity"`
}

// StockFor lists the stock lines held by one pharmacy. Used by the
// fulfillment flow to match a prescription line to the stock row it draws
// from.
func (c *Client) StockFor(ctx context.Context, pharmacyID int) ([]StockLine, error) {
	res, err := c.Get(ctx, fmt.Sprintf("/pharmacies/%d/stock", pharmacyID), nil)
	if err != nil {
		return nil, err
	}
	if !res.OK() {
		return nil, fmt.Errorf("%s: stock listing returned status %d", c.name, res.Status)
	}

	var lines []StockLine
	if err := json.Unmarshal(res.Body, &lines); err != nil {
		return nil, fmt.Errorf("%s: decoding stock listing: %w", c.name, err)
	}
	return lines, nil
}

// Deduct posts a stock deduction for one medication at one pharmacy.
func (c *Client) Deduct(ctx context.Context, pharmacyID, medicationID, quantity int) error {
	body, err := json.Marshal(map[string]int{"quantity": quantity})
	if err != nil {
		return err
	}

	res, err := c.Do(ctx, http.MethodPost, fmt.Sprintf("/pharmacies/%d/stock/%d/deduct", pharmacyID, medicationID), nil, nil, body)
	if err != nil {
		return err
	}
	if !res.OK() {
		return fmt.Errorf("%s: deduction returned status %d", c.name, res.Status)
	}
	return nil
}
