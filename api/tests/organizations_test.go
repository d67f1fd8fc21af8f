package tests

import (
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/gushil/kobocat/api/schema"
)

func TestCreateOrganization(t *testing.T) {
	env := setupTestEnv(t)

	founder, err := env.newUser("founder")
	if err != nil {
		t.Fatal(err)
	}

	org, err := founder.createOrg(map[string]string{
		"org": "Survey_Team", "name": "Survey Team", "email": "team@mail.com", "country": "KE",
	})
	if err != nil {
		t.Fatal(err)
	}
	if org.Org != "Survey_Team" || org.Name != "Survey Team" || org.Creator.String() != founder.userId {
		t.Fatalf("invalid org %v", org)
	}
	if len(org.Users) != 1 || org.Users[0].User != "founder" || org.Users[0].Role != schema.OrgOwner {
		t.Fatalf("creator should be the only owner: %v", org.Users)
	}

	anon := env.newClient()
	fetched, err := anon.getOrg("survey_team")
	if err != nil {
		t.Fatal(err)
	}
	if fetched.Id != org.Id {
		t.Fatalf("lookup ignores case: %v", fetched)
	}

	_, err = founder.createOrg(map[string]string{"org": "SURVEY_TEAM", "name": "Again"})
	if fieldErrors(err)["org"] != "Organization survey_team already exists." {
		t.Fatalf("org names are unique ignoring case: %v", err)
	}

	_, err = founder.signup("survey_team", "x@mail.com", "pwd")
	if fieldErrors(err)["username"] != "survey_team already exists" {
		t.Fatalf("org names and usernames share one namespace: %v", err)
	}

	// Organizations cannot log in.
	err = anon.login(loginInfo{Username: "survey_team", Password: ""})
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("org accounts have no credentials: %v", err)
	}
}

func TestOrganizationValidation(t *testing.T) {
	env := setupTestEnv(t)

	founder, err := env.newUser("founder")
	if err != nil {
		t.Fatal(err)
	}

	input := map[string]string{"org": "bad org", "city": "Mombasa"}
	_, err = founder.createOrg(input)
	if statusOf(err) != http.StatusBadRequest {
		t.Fatalf("expected bad request: %v", err)
	}

	var serr *statusError
	if !errors.As(err, &serr) {
		t.Fatal("expected status error")
	}
	var body struct {
		Fields map[string]string `json:"fields"`
		Input  map[string]string `json:"input"`
	}
	if err := json.Unmarshal([]byte(serr.Body), &body); err != nil {
		t.Fatal(err)
	}
	if body.Fields["org"] != "organization may only contain alpha-numeric characters and underscores" {
		t.Fatalf("invalid org error: %v", body.Fields)
	}
	if body.Fields["name"] != "name is required!" {
		t.Fatalf("missing name error: %v", body.Fields)
	}
	if body.Input["org"] != "bad org" || body.Input["city"] != "Mombasa" {
		t.Fatalf("rejected input should be echoed back: %v", body.Input)
	}

	_, err = founder.createOrg(map[string]string{"name": "No Handle"})
	if fieldErrors(err)["org"] != "org is required!" {
		t.Fatalf("missing org error: %v", err)
	}

	anon := env.newClient()
	_, err = anon.createOrg(map[string]string{"org": "anon_org", "name": "Anon"})
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("anonymous users cannot create orgs: %v", err)
	}

	_, err = anon.getOrg("anon_org")
	if statusOf(err) != http.StatusNotFound {
		t.Fatalf("rejected org should not exist: %v", err)
	}
}
