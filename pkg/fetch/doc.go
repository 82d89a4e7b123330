// Package fetch provides the generic paginated fetcher.
//
// Vendor management APIs disagree on pagination. Two envelope styles are
// supported behind one call, selected by the shape of the response rather
// than by caller intent:
//
//   - offset/limit: the caller advances "offset" by "limit" each round and
//     stops on the first page shorter than the limit (or an empty page)
//   - continuation token: the server embeds a "continuation_token" field or
//     a links entry with rel "next"; the loop stops when neither is present,
//     even across empty pages that still carry a token
//
// Example usage:
//
//	fetcher := fetch.New(apiClient, fetch.DefaultConfig())
//	records, err := fetcher.FetchAll(ctx, "/api/10.1/fabrics", nil)
//
// Both strategies are guarded by a hard iteration cap. Hitting the cap is an
// anomaly (a server looping on itself), logged as such and surfaced as a
// FetchError, never a normal termination path.
//
// The fetcher holds no cursor state between calls; retries and error
// classification live in the client underneath.
package fetch
