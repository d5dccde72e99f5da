package voice

import (
	"fmt"
	"strings"

	"github.com/egeaydin1/fal-freya-garsonai/internal/session"
)

// DefaultOpenerPhrases are the fixed reply openers the system prompt tells
// the model to use verbatim. Every entry is pre-synthesised at startup so a
// matching reply starts playing with near-zero latency. Changing this list
// without regenerating the audio cache makes cache hits impossible.
var DefaultOpenerPhrases = []string{
	"Tabii, hemen sepetinize ekliyorum.",
	"Elbette, hemen hallediyorum.",
	"Harika bir seçim!",
	"Hoş geldiniz!",
	"Size nasıl yardımcı olabilirim?",
	"Tabii ki, başka bir arzunuz var mı?",
	"Güzel bir tercih, hemen ekliyorum.",
	"Maalesef bu ürün menümüzde yok.",
	"Afiyet olsun!",
	"Hemen kontrol ediyorum.",
}

// BuildPrompt assembles the single prompt string for one turn: persona and
// envelope rules, the menu snapshot, the recent history, and the user's
// transcript. The envelope schema lists spoken_response first on purpose;
// first-sentence detection during streaming depends on it arriving before
// the other fields.
func BuildPrompt(menuContext string, openers []string, history []session.Exchange, userText string) string {
	if len(openers) == 0 {
		openers = DefaultOpenerPhrases
	}

	var b strings.Builder
	b.WriteString("Sen bir restoranın sesli sipariş asistanı Garson'sun. ")
	b.WriteString("Kibar, samimi ve kısa konuşursun. Sadece menüdeki ürünler hakkında konuşursun.\n\n")

	b.WriteString("Cevabını HER ZAMAN şu JSON formatında ver ve spoken_response alanını ilk sıraya yaz:\n")
	b.WriteString(`{"spoken_response": "...", "intent": "hi|add|info|recommend|error", "product_name": null, "product_id": null, "quantity": 1, "recommendation": null}`)
	b.WriteString("\n\n")

	b.WriteString("Uygun olduğunda cevabına şu kalıplardan biriyle KELİMESİ KELİMESİNE başla:\n")
	for _, opener := range openers {
		fmt.Fprintf(&b, "- %s\n", opener)
	}
	b.WriteString("\n")

	b.WriteString("Menü:\n")
	b.WriteString(menuContext)
	b.WriteString("\n\n")

	if len(history) > 0 {
		b.WriteString("Önceki konuşma:\n")
		for _, exchange := range history {
			fmt.Fprintf(&b, "Müşteri: %s\n", exchange.User)
			fmt.Fprintf(&b, "Garson: %s\n", exchange.Assistant)
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "Müşteri: %s\n", strings.TrimSpace(userText))
	b.WriteString("Garson:")
	return b.String()
}
