package common

type contextKey string

// HttpClientKey carries an *http.Client override for outbound calls.
const HttpClientKey = contextKey("http_client")
