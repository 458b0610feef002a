package importapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/ginjaninja78/tabular-import/internal/types"
)

// Property describes one column of a model entity.
type Property struct {
	Name string

	// Type is the EDM type, e.g. "Edm.Decimal" or "Edm.Date".
	Type string

	// PropertyType is the integration property type, e.g. "ACCOUNT_TYPE".
	PropertyType string
}

// ModelMetadata is the part of a model's metadata document the importer
// reads. Properties keep their document order.
type ModelMetadata struct {
	FactData   []Property
	MasterData []Property
}

// GetMetadata fetches the metadata document of modelID.
func (c *Client) GetMetadata(ctx context.Context, modelID string) (*ModelMetadata, error) {
	target := c.endpoint("/api/v1/dataexport/providers/sac/"+url.PathEscape(modelID)+"/$metadata") + "?$format=JSON"

	var doc struct {
		Integration struct {
			FactData   json.RawMessage `json:"FactData"`
			MasterData json.RawMessage `json:"MasterData"`
		} `json:"com.sap.cloudDataIntegration"`
	}
	if err := c.do(ctx, "get metadata", http.MethodGet, target, nil, &doc); err != nil {
		return nil, err
	}

	fact, err := decodeProperties(doc.Integration.FactData)
	if err != nil {
		return nil, fmt.Errorf("failed to decode FactData: %w", err)
	}
	master, err := decodeProperties(doc.Integration.MasterData)
	if err != nil {
		return nil, fmt.Errorf("failed to decode MasterData: %w", err)
	}
	return &ModelMetadata{FactData: fact, MasterData: master}, nil
}

// GetMasterData fetches the members of dimension in modelID.
func (c *Client) GetMasterData(ctx context.Context, modelID, dimension string) ([]types.Record, error) {
	target := c.endpoint("/api/v1/dataexport/providers/sac/" + url.PathEscape(modelID) + "/" + url.PathEscape(dimension) + "Master")

	var res struct {
		Value []types.Record `json:"value"`
	}
	if err := c.do(ctx, "get master data", http.MethodGet, target, nil, &res); err != nil {
		return nil, err
	}
	return res.Value, nil
}

// decodeProperties reads an entity object in document order. Members that
// are not objects ("$Kind", "$Key", ...) are skipped.
func decodeProperties(raw json.RawMessage) ([]Property, error) {
	if len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil, nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, fmt.Errorf("entity must be a JSON object")
	}

	var props []Property
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		name, _ := tok.(string)

		var member json.RawMessage
		if err := dec.Decode(&member); err != nil {
			return nil, fmt.Errorf("failed to decode %q: %w", name, err)
		}
		member = bytes.TrimSpace(member)
		if len(member) == 0 || member[0] != '{' {
			continue
		}

		var p struct {
			Type         string `json:"$Type"`
			PropertyType string `json:"@Integration.PropertyType"`
		}
		if err := json.Unmarshal(member, &p); err != nil {
			return nil, fmt.Errorf("failed to decode %q: %w", name, err)
		}
		props = append(props, Property{Name: name, Type: p.Type, PropertyType: p.PropertyType})
	}
	return props, nil
}
