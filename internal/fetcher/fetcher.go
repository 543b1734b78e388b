// Package fetcher is the rate-limited, retrying HTTP layer the provider
// harvesters and knowledge-base client fetch through. The reconciliation
// core never touches it.
package fetcher

import (
	"bufio"
	"context"
	"encoding/json"
	"io"

	"github.com/rotisserie/eris"
)

// Fetcher defines the interface for downloading remote data.
type Fetcher interface {
	// Download fetches the URL and returns the response body.
	Download(ctx context.Context, url string) (io.ReadCloser, error)

	// Resolve performs a GET without following redirects and returns the
	// response status plus the Location header, if any. Harvesters use it
	// to detect identifiers that moved or died upstream.
	Resolve(ctx context.Context, url string) (status int, location string, err error)
}

// FetchJSON downloads url and decodes the JSON response into out.
func FetchJSON(ctx context.Context, f Fetcher, url string, out any) error {
	body, err := f.Download(ctx, url)
	if err != nil {
		return err
	}
	defer body.Close()

	if err := json.NewDecoder(body).Decode(out); err != nil {
		return eris.Wrapf(err, "fetcher: decode json from %s", url)
	}
	return nil
}

// DecodeJSONLines decodes newline-delimited JSON, one T per line, calling
// fn for each decoded value. Blank or malformed lines are skipped and
// counted rather than aborting the batch; the skip count is returned so
// harvesters can report it.
func DecodeJSONLines[T any](ctx context.Context, r io.Reader, fn func(T) error) (int, error) {
	skipped := 0

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return skipped, eris.Wrap(err, "fetcher: json lines cancelled")
		}
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var item T
		if err := json.Unmarshal(line, &item); err != nil {
			skipped++
			continue
		}
		if err := fn(item); err != nil {
			return skipped, err
		}
	}
	if err := sc.Err(); err != nil {
		return skipped, eris.Wrap(err, "fetcher: scan json lines")
	}
	return skipped, nil
}
