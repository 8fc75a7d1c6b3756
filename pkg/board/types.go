package board

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// ClientRecord is a client as returned by the clients endpoint.
type ClientRecord struct {
	ID   string
	Name string
}

// ProjectRecord is a project as returned by the projects endpoint.
// ClientID and ClientNameFallback are empty when the project has no client.
type ProjectRecord struct {
	ProjectNo          string
	ClientID           string
	ClientNameFallback string
}

// flexString accepts both JSON strings and numbers. The Board API returns
// numeric ids and project numbers but the mapping is keyed by their string form.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("expected string or number, got %s", string(b))
	}
	if i, err := strconv.ParseInt(n.String(), 10, 64); err == nil {
		*f = flexString(strconv.FormatInt(i, 10))
		return nil
	}
	*f = flexString(n.String())
	return nil
}

type wireClient struct {
	ID   flexString `json:"id"`
	Name string     `json:"name"`
}

type wireProjectClient struct {
	ID   flexString `json:"id"`
	Name string     `json:"name"`
}

type wireProject struct {
	ProjectNo flexString         `json:"project_no"`
	Client    *wireProjectClient `json:"client"`
}

func (c wireClient) record() ClientRecord {
	return ClientRecord{ID: string(c.ID), Name: c.Name}
}

func (p wireProject) record() ProjectRecord {
	r := ProjectRecord{ProjectNo: string(p.ProjectNo)}
	if p.Client != nil {
		r.ClientID = string(p.Client.ID)
		r.ClientNameFallback = p.Client.Name
	}
	return r
}
