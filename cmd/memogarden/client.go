package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/memogarden/memogarden/internal/verb"
)

// dispatch POSTs a verb envelope to the daemon and decodes its Response.
// Op-specific fields are merged into the top-level JSON object alongside
// "op", mirroring the wire shape verb.DecodeRequest expects.
func dispatch(op verb.Op, fields map[string]any) (verb.Response, error) {
	body := map[string]any{"op": string(op)}
	for k, v := range fields {
		body[k] = v
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return verb.Response{}, fmt.Errorf("encoding request: %w", err)
	}

	url := fmt.Sprintf("http://%s/v1/verb", resolvedAddr())
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return verb.Response{}, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Actor", flagActor)

	httpClient := &http.Client{Timeout: 15 * time.Second}
	resp, err := httpClient.Do(req)
	if err != nil {
		return verb.Response{}, fmt.Errorf("calling daemon at %s: %w", url, err)
	}
	defer resp.Body.Close()

	var out verb.Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return verb.Response{}, fmt.Errorf("decoding daemon response: %w", err)
	}
	return out, nil
}

// getJSON issues a plain GET against the daemon and decodes the JSON body
// into out, used by the stats/status endpoints which sit outside the verb
// envelope.
func getJSON(url string, out any) error {
	httpClient := &http.Client{Timeout: 15 * time.Second}
	resp, err := httpClient.Get(url)
	if err != nil {
		return fmt.Errorf("calling daemon at %s: %w", url, err)
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding daemon response: %w", err)
	}
	return nil
}

// filterRowsSince drops rows whose created_at/realized_at timestamp is
// before cutoff, mutating resp.Result in place. It's a best-effort
// client-side filter: rows with no recognizable timestamp field are kept.
func filterRowsSince(resp *verb.Response, cutoff time.Time) {
	result, ok := resp.Result.(map[string]any)
	if !ok {
		return
	}
	rows, ok := result["rows"].([]any)
	if !ok {
		return
	}
	kept := make([]any, 0, len(rows))
	for _, row := range rows {
		m, ok := row.(map[string]any)
		if !ok {
			kept = append(kept, row)
			continue
		}
		ts, ok := m["created_at"].(string)
		if !ok {
			ts, ok = m["realized_at"].(string)
		}
		if !ok {
			kept = append(kept, row)
			continue
		}
		parsed, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil || !parsed.Before(cutoff) {
			kept = append(kept, row)
		}
	}
	result["rows"] = kept
	resp.Result = result
}

func printResult(resp verb.Response) error {
	if !resp.OK {
		if resp.Error != nil {
			return fmt.Errorf("%s: %s", resp.Error.Code, resp.Error.Message)
		}
		return fmt.Errorf("request failed")
	}
	out, err := json.MarshalIndent(resp.Result, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
