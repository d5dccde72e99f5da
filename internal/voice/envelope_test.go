package voice

import "testing"

func TestParseEnvelope(t *testing.T) {
	raw := `{"spoken_response":"Tabii, hemen sepetinize ekliyorum.","intent":"add","product_name":"Lahmacun","product_id":1,"quantity":2,"recommendation":null}`

	env, err := ParseEnvelope(raw)
	if err != nil {
		t.Fatalf("ParseEnvelope() error = %v", err)
	}
	if env.Intent != IntentAdd {
		t.Fatalf("Intent = %q, want add", env.Intent)
	}
	if env.SpokenResponse != "Tabii, hemen sepetinize ekliyorum." {
		t.Fatalf("SpokenResponse = %q", env.SpokenResponse)
	}
	if env.ProductID == nil || *env.ProductID != 1 {
		t.Fatalf("ProductID = %v, want 1", env.ProductID)
	}
	if env.Quantity != 2 {
		t.Fatalf("Quantity = %d, want 2", env.Quantity)
	}
}

func TestParseEnvelopeStripsCodeFence(t *testing.T) {
	raw := "```json\n{\"spoken_response\":\"Buyrun.\",\"intent\":\"info\"}\n```"

	env, err := ParseEnvelope(raw)
	if err != nil {
		t.Fatalf("ParseEnvelope() error = %v", err)
	}
	if env.SpokenResponse != "Buyrun." {
		t.Fatalf("SpokenResponse = %q", env.SpokenResponse)
	}
}

func TestParseEnvelopeToleratesSurroundingChatter(t *testing.T) {
	raw := `Elbette! {"spoken_response":"Buyrun.","intent":"hi"} Umarım yardımcı olur.`

	env, err := ParseEnvelope(raw)
	if err != nil {
		t.Fatalf("ParseEnvelope() error = %v", err)
	}
	if env.Intent != IntentHi {
		t.Fatalf("Intent = %q, want hi", env.Intent)
	}
}

func TestParseEnvelopeDefaults(t *testing.T) {
	env, err := ParseEnvelope(`{"spoken_response":"Tamam.","intent":"sepete_ekle"}`)
	if err != nil {
		t.Fatalf("ParseEnvelope() error = %v", err)
	}
	if env.Intent != IntentInfo {
		t.Fatalf("unknown intent mapped to %q, want info", env.Intent)
	}
	if env.Quantity != 1 {
		t.Fatalf("Quantity = %d, want default 1", env.Quantity)
	}
}

func TestParseEnvelopeFailsOnProse(t *testing.T) {
	if _, err := ParseEnvelope("Bugün hava çok güzel, sipariş verir misiniz?"); err == nil {
		t.Fatalf("expected parse error for plain prose")
	}
	if _, err := ParseEnvelope(""); err == nil {
		t.Fatalf("expected parse error for empty input")
	}
}

func TestDefaultEnvelope(t *testing.T) {
	env := DefaultEnvelope("  Mercimek çorbamız çok taze.  ")
	if env.Intent != IntentInfo {
		t.Fatalf("Intent = %q, want info", env.Intent)
	}
	if env.SpokenResponse != "Mercimek çorbamız çok taze." {
		t.Fatalf("SpokenResponse = %q", env.SpokenResponse)
	}
	if env.Quantity != 1 {
		t.Fatalf("Quantity = %d, want 1", env.Quantity)
	}
	if env.ProductID != nil || env.ProductName != nil {
		t.Fatalf("product fields should stay null")
	}
}

func TestErrorEnvelope(t *testing.T) {
	env := ErrorEnvelope()
	if env.Intent != IntentError {
		t.Fatalf("Intent = %q, want error", env.Intent)
	}
	if env.SpokenResponse == "" {
		t.Fatalf("error envelope must carry an apology to speak")
	}
}
