package ledger

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"dtl-ledger-indexer/internal/domain"
)

// legacyTimeLayouts are the zone-less ISO-8601 forms found in documents
// written by the earlier ledger service. They are read as UTC. A fractional
// second of any length is accepted after the seconds field.
var legacyTimeLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

var timestampKeys = map[string]bool{
	"created_at": true,
	"updated_at": true,
	"deleted_at": true,
	"timestamp":  true,
}

var templateFieldKeys = []string{"template_name", "payee_name", "payee_account", "default_amount", "description"}

// normalizeLegacy rewrites a document in the older on-disk format into one
// the typed decoder accepts: zone-less timestamps become RFC 3339 UTC, empty
// timestamps are dropped, numeric template fields become strings and
// object-valued _backup_data becomes a serialized domain.TemplateContent.
func normalizeLegacy(data []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var root map[string]interface{}
	if err := dec.Decode(&root); err != nil {
		return nil, err
	}

	normalizeTimestamps(root)

	if index, ok := root["templates_index"].(map[string]interface{}); ok {
		for id, raw := range index {
			entry, ok := raw.(map[string]interface{})
			if !ok {
				continue
			}
			stringifyFields(entry)
			if err := normalizeBackup(id, entry); err != nil {
				return nil, fmt.Errorf("template %s: %w", id, err)
			}
		}
	}
	return json.Marshal(root)
}

func normalizeTimestamps(v interface{}) {
	switch node := v.(type) {
	case map[string]interface{}:
		for k, child := range node {
			s, isString := child.(string)
			if isString && timestampKeys[k] {
				if s == "" {
					delete(node, k)
					continue
				}
				if t, ok := parseLegacyTime(s); ok {
					node[k] = t.Format(time.RFC3339Nano)
				}
				continue
			}
			normalizeTimestamps(child)
		}
	case []interface{}:
		for _, child := range node {
			normalizeTimestamps(child)
		}
	}
}

func parseLegacyTime(s string) (time.Time, bool) {
	if _, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return time.Time{}, false
	}
	for _, layout := range legacyTimeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func stringifyFields(entry map[string]interface{}) {
	for _, k := range templateFieldKeys {
		if n, ok := entry[k].(json.Number); ok {
			entry[k] = n.String()
		}
	}
}

// normalizeBackup converts an object-valued _backup_data (the full template
// document, keyed by owner_address) into the serialized content string the
// template service reads back.
func normalizeBackup(id string, entry map[string]interface{}) error {
	switch backup := entry["_backup_data"].(type) {
	case nil:
		delete(entry, "_backup_data")
	case map[string]interface{}:
		stringifyFields(backup)
		if owner, ok := backup["owner_address"]; ok {
			if _, has := backup["owner"]; !has {
				backup["owner"] = owner
			}
			delete(backup, "owner_address")
		}
		if _, ok := backup["template_id"]; !ok {
			backup["template_id"] = id
		}
		if _, ok := backup["type"]; !ok {
			backup["type"] = domain.TemplateContentType
		}
		payload, err := json.Marshal(backup)
		if err != nil {
			return err
		}
		entry["_backup_data"] = string(payload)
	}
	return nil
}
