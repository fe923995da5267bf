package ports

import "net/http"

// HTTPClient is the client the master/node links and the artifact source
// send requests with. *http.Client satisfies it; tests swap in gock.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}
