package notion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/starford/oohmap/internal/apperr"
)

type fakeAPI struct {
	pages     map[string]Page
	databases map[string]Database
	rows      map[string][]Page
	pageHits  atomic.Int32
	lastAuth  atomic.Value
	lastVer   atomic.Value
	lastQuery atomic.Value
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		pages:     map[string]Page{},
		databases: map[string]Database{},
		rows:      map[string][]Page{},
	}
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.lastAuth.Store(r.Header.Get("Authorization"))
	f.lastVer.Store(r.Header.Get("Notion-Version"))
	path := strings.TrimPrefix(r.URL.Path, "/v1")
	switch {
	case r.Method == http.MethodGet && strings.HasPrefix(path, "/pages/"):
		f.pageHits.Add(1)
		p, ok := f.pages[strings.TrimPrefix(path, "/pages/")]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `{"object":"error","code":"object_not_found"}`)
			return
		}
		_ = json.NewEncoder(w).Encode(p)
	case r.Method == http.MethodPost && strings.HasSuffix(path, "/query"):
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.lastQuery.Store(body)
		id := strings.TrimSuffix(strings.TrimPrefix(path, "/databases/"), "/query")
		_ = json.NewEncoder(w).Encode(map[string]any{"results": f.rows[id]})
	case r.Method == http.MethodGet && strings.HasPrefix(path, "/databases/"):
		d, ok := f.databases[strings.TrimPrefix(path, "/databases/")]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_ = json.NewEncoder(w).Encode(d)
	default:
		w.WriteHeader(http.StatusBadRequest)
	}
}

func newTestClient(t *testing.T, api *fakeAPI) *Client {
	t.Helper()
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)
	return NewClient("secret-token", WithBaseURL(srv.URL+"/v1"))
}

func pageUnder(id, parentType, parentID string) Page {
	p := Page{ID: id, Parent: &Parent{Type: parentType}, Properties: map[string]Property{}}
	switch parentType {
	case "database_id":
		p.Parent.DatabaseID = parentID
	case "page_id":
		p.Parent.PageID = parentID
	}
	return p
}

func strPtr(s string) *string { return &s }

func TestExtractEveryKnownType(t *testing.T) {
	num := 12.5
	yes := true
	cases := map[PropertyType]struct {
		prop Property
		want any
	}{
		TypeTitle:       {Property{Type: TypeTitle, Title: []RichText{{PlainText: "Painel 1"}, {PlainText: "x"}}}, "Painel 1"},
		TypeRichText:    {Property{Type: TypeRichText, RichText: []RichText{{PlainText: "-23.5,-46.6"}}}, "-23.5,-46.6"},
		TypeNumber:      {Property{Type: TypeNumber, Number: &num}, 12.5},
		TypeSelect:      {Property{Type: TypeSelect, Select: &SelectOption{Name: "SP"}}, "SP"},
		TypeMultiSelect: {Property{Type: TypeMultiSelect, MultiSelect: []SelectOption{{Name: "a"}, {Name: "b"}}}, []string{"a", "b"}},
		TypeDate:        {Property{Type: TypeDate, Date: &DateRange{Start: "2024-05-01"}}, "2024-05-01"},
		TypeCheckbox:    {Property{Type: TypeCheckbox, Checkbox: &yes}, true},
		TypeURL:         {Property{Type: TypeURL, URL: strPtr("https://x.test")}, "https://x.test"},
		TypeEmail:       {Property{Type: TypeEmail, Email: strPtr("a@b.test")}, "a@b.test"},
		TypePhoneNumber: {Property{Type: TypePhoneNumber, PhoneNumber: strPtr("+55 11")}, "+55 11"},
	}
	for _, typ := range KnownPropertyTypes {
		tc, ok := cases[typ]
		if !ok {
			t.Fatalf("no test case for property type %q", typ)
		}
		got := Extract(&tc.prop)
		if diff := cmp.Diff(tc.want, got); diff != "" {
			t.Errorf("Extract(%s) mismatch (-want +got):\n%s", typ, diff)
		}
		if diff := cmp.Diff(got, Extract(&tc.prop)); diff != "" {
			t.Errorf("Extract(%s) is not repeatable:\n%s", typ, diff)
		}
	}
}

func TestExtractEmptyAndUnknown(t *testing.T) {
	if got := Extract(&Property{Type: TypeTitle}); got != nil {
		t.Fatalf("empty title = %v, want nil", got)
	}
	if got := Extract(&Property{Type: TypeNumber}); got != nil {
		t.Fatalf("null number = %v, want nil", got)
	}
	zero := 0.0
	if got := Extract(&Property{Type: TypeNumber, Number: &zero}); got != 0.0 {
		t.Fatalf("zero number = %v, want 0", got)
	}
	if got := Extract(&Property{Type: TypeMultiSelect}); len(got.([]string)) != 0 {
		t.Fatalf("empty multi_select = %v, want empty list", got)
	}
	if got := Extract(&Property{Type: TypeCheckbox}); got != false {
		t.Fatalf("absent checkbox = %v, want false", got)
	}
	if got := Extract(&Property{Type: "formula"}); got != nil {
		t.Fatalf("unknown type = %v, want nil", got)
	}
	if got := Extract(nil); got != nil {
		t.Fatalf("nil property = %v, want nil", got)
	}
}

func TestNormalizeID(t *testing.T) {
	cases := map[string]string{
		"0123456789abcdef0123456789ABCDEF":     "01234567-89ab-cdef-0123-456789abcdef",
		"01234567-89ab-cdef-0123-456789abcdef": "01234567-89ab-cdef-0123-456789abcdef",
		"  not-an-id ":                         "not-an-id",
		"":                                     "",
	}
	for in, want := range cases {
		if got := NormalizeID(in); got != want {
			t.Errorf("NormalizeID(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestExtractIDFromURL(t *testing.T) {
	u := "https://www.notion.so/acme/Campanha-Verao-0123456789abcdef0123456789abcdef?v=fedcba9876543210fedcba9876543210"
	if got, want := ExtractID(u), "01234567-89ab-cdef-0123-456789abcdef"; got != want {
		t.Fatalf("ExtractID = %q, want %q", got, want)
	}
}

func TestResolveDatasetThreeHops(t *testing.T) {
	api := newFakeAPI()
	api.pages["rec"] = pageUnder("rec", "page_id", "p1")
	api.pages["p1"] = pageUnder("p1", "page_id", "p2")
	api.pages["p2"] = pageUnder("p2", "database_id", "db-1")

	r := NewResolver(newTestClient(t, api), 0, "", "", nil)
	got, err := r.ResolveDataset(context.Background(), "rec")
	if err != nil {
		t.Fatalf("ResolveDataset: %v", err)
	}
	if got != "db-1" {
		t.Fatalf("dataset = %q, want db-1", got)
	}
	if n := api.pageHits.Load(); n != 3 {
		t.Fatalf("page fetches = %d, want 3", n)
	}
	if v := api.lastAuth.Load(); v != "Bearer secret-token" {
		t.Fatalf("Authorization = %v", v)
	}
	if v := api.lastVer.Load(); v != DefaultAPIVersion {
		t.Fatalf("Notion-Version = %v", v)
	}
}

func TestResolveDatasetChainTooDeep(t *testing.T) {
	api := newFakeAPI()
	for i := 0; i < 25; i++ {
		api.pages[fmt.Sprintf("p%d", i)] = pageUnder(fmt.Sprintf("p%d", i), "page_id", fmt.Sprintf("p%d", i+1))
	}
	api.pages["p25"] = pageUnder("p25", "database_id", "db")

	r := NewResolver(newTestClient(t, api), 20, "", "", nil)
	_, err := r.ResolveDataset(context.Background(), "p0")
	if !errors.Is(err, ErrParentChainTooDeep) {
		t.Fatalf("err = %v, want ErrParentChainTooDeep", err)
	}
	if n := api.pageHits.Load(); n != 20 {
		t.Fatalf("page fetches = %d, want 20", n)
	}
}

func TestResolveDatasetCycleTerminates(t *testing.T) {
	api := newFakeAPI()
	api.pages["a"] = pageUnder("a", "page_id", "b")
	api.pages["b"] = pageUnder("b", "page_id", "a")

	r := NewResolver(newTestClient(t, api), 5, "", "", nil)
	if _, err := r.ResolveDataset(context.Background(), "a"); !errors.Is(err, ErrParentChainTooDeep) {
		t.Fatalf("err = %v, want ErrParentChainTooDeep", err)
	}
}

func TestResolveDatasetParentErrors(t *testing.T) {
	api := newFakeAPI()
	api.pages["orphan"] = Page{ID: "orphan"}
	api.pages["ws"] = pageUnder("ws", "workspace", "")

	r := NewResolver(newTestClient(t, api), 0, "", "", nil)
	if _, err := r.ResolveDataset(context.Background(), "orphan"); !errors.Is(err, ErrMissingParent) {
		t.Fatalf("orphan err = %v, want ErrMissingParent", err)
	}

	_, err := r.ResolveDataset(context.Background(), "ws")
	var upe *UnsupportedParentError
	if !errors.As(err, &upe) || upe.Kind != "workspace" {
		t.Fatalf("workspace err = %v, want UnsupportedParentError{workspace}", err)
	}

	_, err = r.ResolveDataset(context.Background(), "missing")
	var ue *UpstreamError
	if !errors.As(err, &ue) || ue.Status != http.StatusNotFound {
		t.Fatalf("missing err = %v, want UpstreamError 404", err)
	}
	if !errors.Is(err, apperr.ErrUpstream) {
		t.Fatal("UpstreamError should match apperr.ErrUpstream")
	}
}

func TestResolveTitleFallbacks(t *testing.T) {
	api := newFakeAPI()

	titled := pageUnder("titled", "page_id", "x")
	titled.Properties["Name"] = Property{Type: TypeTitle, Title: []RichText{{PlainText: "Campanha Verão"}}}
	api.pages["titled"] = titled

	api.pages["in-db"] = pageUnder("in-db", "database_id", "db-1")
	api.databases["db-1"] = Database{ID: "db-1", Title: []RichText{{PlainText: "Pontos SP"}}}

	api.pages["in-missing-db"] = pageUnder("in-missing-db", "database_id", "gone")
	api.pages["bare"] = pageUnder("bare", "page_id", "x")

	r := NewResolver(newTestClient(t, api), 0, "Projeto", "Dataset", nil)
	ctx := context.Background()
	for id, want := range map[string]string{
		"titled":        "Campanha Verão",
		"in-db":         "Pontos SP",
		"in-missing-db": "Dataset",
		"bare":          "Projeto",
	} {
		got, err := r.ResolveTitle(ctx, id)
		if err != nil {
			t.Fatalf("ResolveTitle(%s): %v", id, err)
		}
		if got != want {
			t.Errorf("ResolveTitle(%s) = %q, want %q", id, got, want)
		}
	}
}

func TestQueryDatasetSendsPageSize(t *testing.T) {
	api := newFakeAPI()
	api.rows["db-1"] = []Page{pageUnder("r1", "database_id", "db-1"), pageUnder("r2", "database_id", "db-1")}

	c := newTestClient(t, api)
	rows, err := c.QueryDataset(context.Background(), "db-1")
	if err != nil {
		t.Fatalf("QueryDataset: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(rows))
	}
	body, _ := api.lastQuery.Load().(map[string]any)
	if body["page_size"] != float64(DefaultPageSize) {
		t.Fatalf("page_size = %v, want %d", body["page_size"], DefaultPageSize)
	}

	empty, err := c.QueryDataset(context.Background(), "db-empty")
	if err != nil {
		t.Fatalf("QueryDataset empty: %v", err)
	}
	if empty == nil || len(empty) != 0 {
		t.Fatalf("empty dataset = %v, want empty slice", empty)
	}
}
