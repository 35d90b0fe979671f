// Package compose runs the slot-filling conversation that turns a chat
// exchange into a publishable listing draft.
package compose

import (
	"fmt"
	"strings"

	"pazarglobal/pkg/domain"
)

// NextMissingSlot returns the first unfilled slot in canonical order, or
// "" when the draft is complete.
func NextMissingSlot(d domain.Draft) domain.Slot {
	for _, slot := range domain.SlotOrder {
		if !slotFilled(d, slot) {
			return slot
		}
	}
	return ""
}

func slotFilled(d domain.Draft, slot domain.Slot) bool {
	switch slot {
	case domain.SlotImages:
		return len(d.Images) > 0
	case domain.SlotTitle:
		return strings.TrimSpace(d.Fields.Title) != ""
	case domain.SlotDescription:
		return strings.TrimSpace(d.Fields.Description) != ""
	case domain.SlotPrice:
		return d.Fields.Price != nil && *d.Fields.Price > 0
	case domain.SlotCategory:
		return strings.TrimSpace(d.Fields.Category) != ""
	}
	return true
}

// SlotPrompt is the single question asked for a missing slot.
func SlotPrompt(slot domain.Slot) string {
	switch slot {
	case domain.SlotImages:
		return "📸 Ürününüzün fotoğrafını gönderir misiniz?"
	case domain.SlotTitle:
		return "📝 İlan başlığı ne olsun?"
	case domain.SlotDescription:
		return "📄 Ürünü biraz anlatır mısınız? (durumu, özellikleri)"
	case domain.SlotPrice:
		return "💰 Fiyat ne olsun? İsterseniz \"öner\" yazın, piyasaya göre önereyim."
	case domain.SlotCategory:
		return "📁 Hangi kategoride yayınlayalım? (örn. Elektronik, Ev & Yaşam)"
	}
	return ""
}

// Summary renders the filled draft for the publish call-to-action.
func Summary(d domain.Draft) string {
	var b strings.Builder
	b.WriteString("🎉 İlanınız hazır!\n\n")
	b.WriteString("📝 Başlık: " + d.Fields.Title + "\n")
	b.WriteString("📄 Açıklama: " + d.Fields.Description + "\n")
	if d.Fields.Price != nil {
		b.WriteString(fmt.Sprintf("💰 Fiyat: %s TL\n", FormatPrice(*d.Fields.Price)))
	}
	b.WriteString("📁 Kategori: " + d.Fields.Category + "\n")
	b.WriteString(fmt.Sprintf("📸 Fotoğraf: %d adet\n\n", len(d.Images)))
	b.WriteString("Yayınlamak için \"yayınla\" yazın, vazgeçmek için \"iptal\".")
	return b.String()
}

// FormatPrice renders a price without trailing zero noise.
func FormatPrice(v float64) string {
	if v == float64(int64(v)) {
		return fmt.Sprintf("%d", int64(v))
	}
	return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.2f", v), "0"), ".")
}
