package i18n

import (
	"context"
	"encoding/json"
	"io/fs"
	"net/http"
	"net/http/httptest"
	"testing"
)

func initLang(t *testing.T, lang string) context.Context {
	t.Helper()
	if err := Init("en"); err != nil {
		t.Fatalf("Init: %v", err)
	}
	return WithLocalizer(context.Background(), NewLocalizer(lang))
}

func TestTranslateEnglish(t *testing.T) {
	ctx := initLang(t, "en")

	if got := T(ctx, "AppTitle"); got != "SSB Interview Practice" {
		t.Errorf("T(AppTitle) = %q", got)
	}
	if got := T(ctx, "SessionNotFound"); got != "Interview session not found. Please try again." {
		t.Errorf("T(SessionNotFound) = %q", got)
	}
}

func TestTranslateHindi(t *testing.T) {
	ctx := initLang(t, "hi")

	if got := T(ctx, "AppTitle"); got != "एसएसबी साक्षात्कार अभ्यास" {
		t.Errorf("T(AppTitle) = %q", got)
	}
}

func TestUnknownLanguageFallsBackToDefault(t *testing.T) {
	ctx := initLang(t, "fr")

	if got := T(ctx, "InternalError"); got != "Something went wrong. Please try again." {
		t.Errorf("T(InternalError) = %q, want English fallback", got)
	}
}

func TestPluralTranslation(t *testing.T) {
	ctx := initLang(t, "en")

	if got := Tp(ctx, "QuestionsAvailable", 1); got != "1 question available." {
		t.Errorf("Tp(QuestionsAvailable, 1) = %q", got)
	}
	if got := Tp(ctx, "QuestionsAvailable", 5); got != "5 questions available." {
		t.Errorf("Tp(QuestionsAvailable, 5) = %q", got)
	}
}

func TestTemplateDataTranslation(t *testing.T) {
	ctx := initLang(t, "en")

	got := Td(ctx, "ResultsReady", map[string]any{"Rating": "Good"})
	if got != "Your SSB interview results are ready. Overall rating: Good." {
		t.Errorf("Td(ResultsReady) = %q", got)
	}
}

func TestMissingKey(t *testing.T) {
	ctx := initLang(t, "en")

	if got := T(ctx, "NonExistentKey"); got != "NonExistentKey" {
		t.Errorf("T(NonExistentKey) = %q, want 'NonExistentKey'", got)
	}
}

func TestNoLocalizerInContext(t *testing.T) {
	initLang(t, "en")

	if got := T(context.Background(), "AppTitle"); got != "SSB Interview Practice" {
		t.Errorf("T(AppTitle) = %q", got)
	}
}

func TestInitRejectsBadTag(t *testing.T) {
	if err := Init("not a tag!"); err == nil {
		t.Fatal("expected error for invalid language tag")
	}
	t.Cleanup(func() { _ = Init("en") })
}

// Every message in the default locale must exist in the others.
func TestLocalesHaveSameKeys(t *testing.T) {
	load := func(name string) map[string]json.RawMessage {
		t.Helper()
		data, err := fs.ReadFile(localeFS, "locales/"+name)
		if err != nil {
			t.Fatal(err)
		}
		var m map[string]json.RawMessage
		if err := json.Unmarshal(data, &m); err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		return m
	}
	en := load("en.json")
	hi := load("hi.json")
	for k := range en {
		if _, ok := hi[k]; !ok {
			t.Errorf("hi.json missing %q", k)
		}
	}
}

func TestMiddleware(t *testing.T) {
	initLang(t, "en")

	tests := []struct {
		name   string
		target string
		header string
		want   string
	}{
		{"default", "/", "", "SSB Interview Practice"},
		{"accept-language", "/", "hi-IN,hi;q=0.9,en;q=0.8", "एसएसबी साक्षात्कार अभ्यास"},
		{"query beats header", "/?lang=en", "hi", "SSB Interview Practice"},
		{"unsupported", "/", "de-DE", "SSB Interview Practice"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got string
			h := Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got = T(r.Context(), "AppTitle")
			}))
			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			if tt.header != "" {
				req.Header.Set("Accept-Language", tt.header)
			}
			h.ServeHTTP(httptest.NewRecorder(), req)
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}
