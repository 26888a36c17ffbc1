// Package api is the HTTP transport for the remote key-value storage API.
//
// Overview
//
// Every request is scoped to one account and authenticated with a bearer
// token. Responses from the management endpoints are wrapped in an envelope:
//
//	{
//	  "success": true,
//	  "errors": [{"code": 10009, "message": "key not found"}],
//	  "messages": [],
//	  "result": ...,
//	  "result_info": {"page": 1, "per_page": 20, "count": 20, "cursor": "..."}
//	}
//
// Do decodes the envelope and turns "success": false into an *APIError.
// Value reads are the exception: Raw returns the stored bytes unmodified,
// since a value can be any JSON shape (or no JSON at all).
//
// Usage
//
//	client, err := api.New(&api.Config{
//	    AccountID: cfg.AccountID,
//	    APIToken:  cfg.APIToken,
//	})
//	if err != nil {
//	    return err
//	}
//
//	var namespaces []namespace.Namespace
//	_, err = client.Do(ctx, http.MethodGet, "storage/kv/namespaces", query, nil, &namespaces)
//
// Error Handling
//
// Server-reported failures are terminal. The client never retries; the
// caller sees the joined "<code>: <message>" lines of the envelope:
//
//	if errors.Is(err, api.ErrRequestFailed) {
//	    var apiErr *api.APIError
//	    errors.As(err, &apiErr)
//	    // apiErr.StatusCode, apiErr.Errors
//	}
package api
