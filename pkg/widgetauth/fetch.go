package widgetauth

import (
	"context"
	"net/http"
)

// APIFetch sends req with the manager's token as a bearer credential. Any
// Authorization header on req is replaced. The request is not retried when
// the API answers 401; retries apply to token acquisition only.
func (m *Manager) APIFetch(ctx context.Context, req *http.Request) (*http.Response, error) {
	token, err := m.EnsureToken(ctx)
	if err != nil {
		return nil, err
	}

	out := req.Clone(ctx)
	out.RequestURI = ""
	out.Header.Set("Authorization", "Bearer "+token)
	return m.opts.httpClient.Do(out)
}
