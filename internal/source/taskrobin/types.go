package taskrobin

// StatusSuccess is the status value of an accepted request.
const StatusSuccess = "success"

// CreateIntegrationRequest is the body of POST /mappings.
type CreateIntegrationRequest struct {
	UserEmail  string `json:"userEmail"`
	EmailAlias string `json:"emailAlias"`
}

// CreateIntegrationResponse is the response from POST /mappings. The token
// is only present when Status is "success".
type CreateIntegrationResponse struct {
	Status      string `json:"status"`
	AccessToken string `json:"accessToken,omitempty"`
	Error       string `json:"error,omitempty"`
}

// OK reports whether the mapping was created.
func (r *CreateIntegrationResponse) OK() bool { return r.Status == StatusSuccess }

// DeleteIntegrationRequest is the body of DELETE /mappings. The token is
// repeated in the body because the service requires it there.
type DeleteIntegrationRequest struct {
	UserEmail   string `json:"userEmail"`
	EmailAlias  string `json:"emailAlias"`
	AccessToken string `json:"accessToken"`
}

// DeleteIntegrationResponse is the response from DELETE /mappings.
type DeleteIntegrationResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// OK reports whether the mapping was removed.
func (r *DeleteIntegrationResponse) OK() bool { return r.Status == StatusSuccess }
