package fetchextra

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"

	json "github.com/goccy/go-json"
	"golang.org/x/text/encoding/htmlindex"
)

// Response wraps http.Response with materialization methods that run the
// configured validators and transparently retry failed attempts.
//
// The embedded http.Response is the live one: Body is the interposed
// stream delivering the wire bytes unchanged. When a materialization
// call triggers a retry, the replacement attempt's response is swapped
// in, so the caller's original call resolves with the new attempt's
// data and later calls see the new response.
type Response struct {
	// Response embeds the standard http.Response. Nil Body indicates a
	// bodyless response (101, 103, 204, 205, 304, or no body on the
	// wire).
	*http.Response

	att   *attempt
	state *State

	mu       sync.Mutex
	body     []byte
	bodyRead bool
}

// Completed blocks until the logical operation settles and returns its
// final transfer statistics. It settles exactly once regardless of
// retry count; on failure the statistics accompany the error. Multiple
// waiters all observe the same outcome.
func (r *Response) Completed(ctx context.Context) (*TransferStats, error) {
	return r.state.done.wait(ctx)
}

// State returns the operation's state record.
func (r *Response) State() *State { return r.state }

// IsSuccess returns true if the response status code is 2xx.
func (r *Response) IsSuccess() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// checkFunc decodes and validates a materialized body. runValidators is
// false on the cached path, where validators already ran.
type checkFunc func(body []byte, st *State, runValidators bool) error

// Bytes materializes the body as raw bytes, running the Bytes validator
// if configured.
func (r *Response) Bytes(ctx context.Context) ([]byte, error) {
	return r.materialize(ctx, func(body []byte, st *State, run bool) error {
		if !run {
			return nil
		}
		if v := st.Options.Validate; v != nil && v.Bytes != nil {
			return v.Bytes(body, st)
		}
		return nil
	})
}

// Text materializes the body as a string, running the Text validator if
// configured.
func (r *Response) Text(ctx context.Context) (string, error) {
	b, err := r.materialize(ctx, textCheck)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func textCheck(body []byte, st *State, run bool) error {
	if !run {
		return nil
	}
	if v := st.Options.Validate; v != nil && v.Text != nil {
		return v.Text(string(body), st)
	}
	return nil
}

// TextConverted materializes the body as a string decoded from the
// given charset (an IANA/WHATWG encoding name such as "windows-1252"),
// running the Text validator on the converted text.
func (r *Response) TextConverted(ctx context.Context, charset string) (string, error) {
	enc, err := htmlindex.Get(charset)
	if err != nil {
		return "", fmt.Errorf("unknown charset %q: %w", charset, err)
	}

	var out string
	_, err = r.materialize(ctx, func(body []byte, st *State, run bool) error {
		decoded, derr := enc.NewDecoder().Bytes(body)
		if derr != nil {
			return derr
		}
		out = string(decoded)
		if run {
			if v := st.Options.Validate; v != nil && v.Text != nil {
				return v.Text(out, st)
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return out, nil
}

// JSON materializes the body and decodes it into v, running the JSON
// validator with the decoded value if configured.
func (r *Response) JSON(ctx context.Context, v any) error {
	_, err := r.materialize(ctx, func(body []byte, st *State, run bool) error {
		if derr := json.Unmarshal(body, v); derr != nil {
			return derr
		}
		if run {
			if val := st.Options.Validate; val != nil && val.JSON != nil {
				return val.JSON(v, st)
			}
		}
		return nil
	})
	return err
}

// materialize is the interception point for the body-materialization
// set. It reads the body once (caching the bytes), runs the per-kind
// validator, and settles the completion on success. On failure —
// whether from the stream (including translated timeouts) or from the
// validator — it consults the retry path; an approved retry performs a
// brand-new attempt and the loop re-materializes against the
// replacement response, so the caller's call resolves transparently
// with the retried data.
func (r *Response) materialize(ctx context.Context, check checkFunc) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.bodyRead {
		// Validators ran on first materialization; only re-decode.
		if err := check(r.body, r.state, false); err != nil {
			return nil, err
		}
		return r.body, nil
	}

	for {
		body, err := r.readAndCheck(check)
		if err == nil {
			r.body = body
			r.bodyRead = true
			r.state.consuming.Store(false)
			r.state.settle(nil)
			return body, nil
		}

		next, rerr := r.att.op.retryFrom(ctx, err, r)
		if rerr != nil {
			r.state.consuming.Store(false)
			r.state.settle(rerr)
			return nil, rerr
		}
		r.swap(next)
	}
}

// readAndCheck consumes the current attempt's body and validates it.
// The consuming flag is raised first so the stream-side signaler backs
// off and the interceptor alone settles the outcome.
func (r *Response) readAndCheck(check checkFunc) ([]byte, error) {
	if r.Response == nil || r.Response.Body == nil {
		if err := check(nil, r.state, true); err != nil {
			return nil, err
		}
		return nil, nil
	}

	r.state.consuming.Store(true)
	body, err := io.ReadAll(r.Response.Body)
	_ = r.Response.Body.Close()
	if err != nil {
		// Already translated by the stream interposer.
		return nil, err
	}
	if err := check(body, r.state, true); err != nil {
		return nil, err
	}
	return body, nil
}

// swap replaces the caller-held wrapper's internals with a replacement
// attempt's response.
func (r *Response) swap(next *Response) {
	r.Response = next.Response
	r.att = next.att
}
