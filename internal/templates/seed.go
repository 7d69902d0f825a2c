package templates

import (
	"context"
	"fmt"
)

// SeedTemplate is one (key, channel) template with its translations.
type SeedTemplate struct {
	Key          string
	Channel      string
	Description  string
	Translations map[string]string
}

// DefaultSeeds returns the stock share templates (English + Hindi). Additional
// languages are added through administrative content edits.
func DefaultSeeds() []SeedTemplate {
	return []SeedTemplate{
		{
			Key:         "share_video",
			Channel:     "whatsapp",
			Description: "Doctor shares a single education video",
			Translations: map[string]string{
				"en": "Your doctor {{doctor_name}} has shared important information with you regarding {{title}}. Click on this link to view the information {{link}}",
				"hi": "आपके डॉक्टर {{doctor_name}} ने {{title}} से जुड़ी महत्वपूर्ण जानकारी साझा की है। देखने के लिए यहाँ क्लिक करें: {{link}}",
			},
		},
		{
			Key:         "share_subtopic",
			Channel:     "whatsapp",
			Description: "Doctor shares a subtopic collection",
			Translations: map[string]string{
				"en": "Your doctor {{doctor_name}} has shared important information with you regarding {{subtopic}}. Click on this link to view the information {{link}}",
				"hi": "आपके डॉक्टर {{doctor_name}} ने {{subtopic}} से जुड़ी महत्वपूर्ण जानकारी साझा की है। यहाँ देखें: {{link}}",
			},
		},
		{
			Key:         "share_portal",
			Channel:     "whatsapp",
			Description: "Doctor invites the patient to the portal",
			Translations: map[string]string{
				"en": "Your doctor {{doctor_name}} has shared their patient education service for your child, to help you ensure your child grows healthy and happy. Access it here: {{link}}",
				"hi": "आपके डॉक्टर {{doctor_name}} ने आपके बच्चे के लिए रोगी शिक्षा सेवा साझा की है ताकि आप उसके स्वस्थ और खुशहाल विकास में सहयोग कर सकें। यहाँ देखें: {{link}}",
			},
		},
		{
			Key:         "share_video",
			Channel:     "email",
			Description: "Email variant of the video share",
			Translations: map[string]string{
				"en": "Your doctor {{doctor_name}} has shared important information with you regarding {{title}}.\n\nView it here: {{link}}",
			},
		},
		{
			Key:         "share_portal",
			Channel:     "email",
			Description: "Email variant of the portal invite",
			Translations: map[string]string{
				"en": "Your doctor {{doctor_name}} has invited you to their patient education portal.\n\nAccess it here: {{link}}",
			},
		},
	}
}

// Seed applies the provided templates, creating or refreshing each translation.
func Seed(ctx context.Context, store *Store, seeds []SeedTemplate) error {
	for _, tpl := range seeds {
		for lang, body := range tpl.Translations {
			if err := store.Upsert(ctx, tpl.Key, tpl.Channel, tpl.Description, lang, body); err != nil {
				return fmt.Errorf("templates: seed %s/%s: %w", tpl.Key, tpl.Channel, err)
			}
		}
	}
	return nil
}
