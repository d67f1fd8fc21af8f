package tests

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"

	"github.com/go-chi/chi/v5"
	"github.com/gushil/kobocat/api/profiles"
)

type httpTestRequest struct {
	api http.Handler

	method   string
	endpoint string
	headers  map[string]string
	json     interface{}
	body     io.Reader
	login    *loginInfo
}

func newHttpTestRequest(api http.Handler, method, endpoint string) *httpTestRequest {
	return &httpTestRequest{
		api:      api,
		method:   method,
		endpoint: endpoint,
	}
}

func (r *httpTestRequest) Header(key, value string) *httpTestRequest {
	if r.headers == nil {
		r.headers = make(map[string]string)
	}
	r.headers[key] = value
	return r
}

func (r *httpTestRequest) Login(username, password string) *httpTestRequest {
	r.login = &loginInfo{Username: username, Password: password}
	return r
}

func (r *httpTestRequest) Auth(token string) *httpTestRequest {
	return r.Header("Authorization", fmt.Sprintf("Bearer %v", token))
}

func (r *httpTestRequest) Json(data interface{}) *httpTestRequest {
	r.json = data
	return r
}

// statusError is returned for any non 2xx response.
type statusError struct {
	Code int
	Body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("returned status %d, content '%v'", e.Code, e.Body)
}

var ErrUnauthorized = errors.New("unauthorized")

func statusOf(err error) int {
	var serr *statusError
	if errors.As(err, &serr) {
		return serr.Code
	}
	if errors.Is(err, ErrUnauthorized) {
		return http.StatusUnauthorized
	}
	return 0
}

// fieldErrors decodes the per-field messages of a rejected request.
func fieldErrors(err error) map[string]string {
	var serr *statusError
	if !errors.As(err, &serr) {
		return nil
	}
	var body struct {
		Fields map[string]string `json:"fields"`
	}
	if json.Unmarshal([]byte(serr.Body), &body) != nil {
		return nil
	}
	return body.Fields
}

// response body will be parsed into result, passing nil indicates that no result is returned.
func (r *httpTestRequest) Do(result interface{}) error {
	if r.json != nil {
		body := new(bytes.Buffer)
		err := json.NewEncoder(body).Encode(r.json)
		if err != nil {
			return fmt.Errorf("error encoding json body for endpoint %v: %w", r.endpoint, err)
		}
		r.body = body
	}

	req := httptest.NewRequest(r.method, r.endpoint, r.body)
	for k, v := range r.headers {
		req.Header.Add(k, v)
	}

	if r.login != nil {
		req.SetBasicAuth(r.login.Username, r.login.Password)
	}

	w := httptest.NewRecorder()

	r.api.ServeHTTP(w, req)

	res := w.Result()
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		if res.StatusCode == http.StatusUnauthorized {
			return ErrUnauthorized
		}
		return fmt.Errorf("%v request to endpoint %v: %w", r.method, r.endpoint, &statusError{Code: res.StatusCode, Body: w.Body.String()})
	}

	if result != nil {
		err := json.NewDecoder(res.Body).Decode(result)
		if err != nil {
			return fmt.Errorf("error parsing %v response from endpoint %v: %w", r.method, r.endpoint, err)
		}
	}

	return nil
}

type client struct {
	api       chi.Router
	authToken string
	userId    string
}

func (c *client) request(method, endpoint string) *httpTestRequest {
	r := newHttpTestRequest(c.api, method, endpoint)
	if c.authToken != "" {
		return r.Auth(c.authToken)
	}
	return r
}

func (c *client) Get(endpoint string) *httpTestRequest {
	return c.request(http.MethodGet, endpoint)
}

func (c *client) Post(endpoint string) *httpTestRequest {
	return c.request(http.MethodPost, endpoint)
}

func (c *client) Put(endpoint string) *httpTestRequest {
	return c.request(http.MethodPut, endpoint)
}

func (c *client) Patch(endpoint string) *httpTestRequest {
	return c.request(http.MethodPatch, endpoint)
}

func (c *client) Delete(endpoint string) *httpTestRequest {
	return c.request(http.MethodDelete, endpoint)
}

type loginInfo struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (c *client) signup(username, email, password string) (loginInfo, error) {
	body := map[string]string{
		"email": email, "username": username, "password": password, "name": username + " Tester",
	}

	err := c.Post("/users/signup").Json(body).Do(nil)
	if err != nil {
		return loginInfo{}, err
	}

	return loginInfo{Username: username, Password: password}, nil
}

func (c *client) login(login loginInfo) error {
	var res map[string]string
	err := c.Get("/users/login").Login(login.Username, login.Password).Do(&res)
	if err != nil {
		return err
	}

	c.authToken = res["access_token"]
	c.userId = res["user_id"]

	return nil
}

func (c *client) me() (profiles.ProfileRepresentation, error) {
	var res profiles.ProfileRepresentation
	err := c.Get("/users/me").Do(&res)
	return res, err
}

func (c *client) activate(token string) (map[string]interface{}, error) {
	var res map[string]interface{}
	err := c.Get("/users/activate?token=" + url.QueryEscape(token)).Do(&res)
	return res, err
}

type formInfo struct {
	Id         string `json:"id"`
	IdString   string `json:"id_string"`
	Title      string `json:"title"`
	SharedData bool   `json:"shared_data"`
	Owner      string `json:"owner"`
}

func (c *client) createForm(idString string, shared bool) (formInfo, error) {
	var res formInfo
	err := c.Post("/forms").Json(map[string]interface{}{"id_string": idString, "title": idString, "shared_data": shared}).Do(&res)
	return res, err
}

func (c *client) listForms(includeShared bool) ([]formInfo, error) {
	var res []formInfo
	endpoint := "/forms"
	if includeShared {
		endpoint += "?shared=true"
	}
	err := c.Get(endpoint).Do(&res)
	return res, err
}

func (c *client) shareForm(formId, username string) error {
	return c.Post(fmt.Sprintf("/forms/%v/share", formId)).Json(map[string]string{"username": username}).Do(nil)
}

func (c *client) setShared(formId string, shared bool) (formInfo, error) {
	var res formInfo
	err := c.Patch(fmt.Sprintf("/forms/%v", formId)).Json(map[string]bool{"shared_data": shared}).Do(&res)
	return res, err
}

func (c *client) submit(formId string, data map[string]interface{}) (string, error) {
	var res map[string]interface{}
	err := c.Post(fmt.Sprintf("/forms/%v/submissions", formId)).Json(data).Do(&res)
	if err != nil {
		return "", err
	}
	return res["id"].(string), nil
}

type noteInfo struct {
	Id       string  `json:"id"`
	Note     string  `json:"note"`
	Instance string  `json:"instance"`
	Owner    *string `json:"owner"`
}

func (c *client) createNote(submissionId, text string) (noteInfo, error) {
	var res noteInfo
	err := c.Post("/notes").Json(map[string]string{"instance": submissionId, "note": text}).Do(&res)
	return res, err
}

func (c *client) listNotes() ([]noteInfo, error) {
	var res []noteInfo
	err := c.Get("/notes").Do(&res)
	return res, err
}

func (c *client) listNotesFor(submissionId string) ([]noteInfo, error) {
	var res []noteInfo
	err := c.Get("/notes?instance=" + submissionId).Do(&res)
	return res, err
}

func (c *client) getNote(noteId string) (noteInfo, error) {
	var res noteInfo
	err := c.Get(fmt.Sprintf("/notes/%v", noteId)).Do(&res)
	return res, err
}

func (c *client) deleteNote(noteId string) error {
	return c.Delete(fmt.Sprintf("/notes/%v", noteId)).Do(nil)
}

func (c *client) getProfile(username string) (profiles.ProfileRepresentation, error) {
	var res profiles.ProfileRepresentation
	err := c.Get(fmt.Sprintf("/profiles/%v", username)).Do(&res)
	return res, err
}

func (c *client) putProfile(username string, fields map[string]interface{}) (profiles.ProfileRepresentation, error) {
	var res profiles.ProfileRepresentation
	err := c.Put(fmt.Sprintf("/profiles/%v", username)).Json(fields).Do(&res)
	return res, err
}

func (c *client) patchProfile(username string, fields map[string]interface{}) (profiles.ProfileRepresentation, error) {
	var res profiles.ProfileRepresentation
	err := c.Patch(fmt.Sprintf("/profiles/%v", username)).Json(fields).Do(&res)
	return res, err
}

func (c *client) createOrg(fields map[string]string) (profiles.OrganizationRepresentation, error) {
	var res profiles.OrganizationRepresentation
	err := c.Post("/orgs").Json(fields).Do(&res)
	return res, err
}

func (c *client) getOrg(org string) (profiles.OrganizationRepresentation, error) {
	var res profiles.OrganizationRepresentation
	err := c.Get(fmt.Sprintf("/orgs/%v", org)).Do(&res)
	return res, err
}
