// Package catalog defines the advisory services offered by the Oráculo
// platform and the per-service configuration that drives the generic
// conversation controller: persona metadata, storage key prefixes, free
// message limits, pricing and prize tables.
package catalog

import (
	"errors"
	"strings"
)

var ErrServiceNotFound = errors.New("catalog: service not found")

// PrizeKind identifies what a reward wheel prize grants.
type PrizeKind string

const (
	PrizeExtraSpins         PrizeKind = "extra_spins"
	PrizeBonusConsultations PrizeKind = "bonus_consultations"
	PrizeFullUnlock         PrizeKind = "full_unlock"
	PrizeTryAgain           PrizeKind = "try_again"
)

// Prize is one weighted outcome on a service's reward wheel.
type Prize struct {
	Kind   PrizeKind `json:"kind"`
	Count  int       `json:"count,omitempty"`
	Weight float64   `json:"weight"`
	Label  string    `json:"label"`
}

// PersonaConfig holds the display metadata for a service's AI persona.
// Prompt content lives in the chat-completion backend, not here.
type PersonaConfig struct {
	Name         string `json:"name"`
	Description  string `json:"description"`
	ErrorMessage string `json:"-"` // persona-styled apology shown on backend failures
}

// ServiceConfig describes one advisory chat service.
type ServiceConfig struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	Persona    PersonaConfig `json:"persona"`
	KeyPrefix  string        `json:"-"` // session storage key prefix, e.g. "numerology"
	TierTag    string        `json:"-"` // suffix of the paid flag key, e.g. "full"
	BonusKey   string        `json:"-"` // session key holding bonus consultations
	FreeLimit  int           `json:"freeLimit"`
	PriceCents int64         `json:"priceCents"`
	Currency   string        `json:"currency"`
	PrizeTable []Prize       `json:"-"`
	Welcomes   []string      `json:"-"`
	BonusGrant int           `json:"-"` // consultations granted by a bonus prize
}

// MessagesKey returns the session key for the service's conversation log.
func (s ServiceConfig) MessagesKey() string { return s.KeyPrefix + "Messages" }

// BlockedKey returns the session key for the pending blocked message id.
func (s ServiceConfig) BlockedKey() string { return s.KeyPrefix + "BlockedMessageId" }

// CountKey returns the session key for the free message counter.
func (s ServiceConfig) CountKey() string { return s.KeyPrefix + "UserMessageCount" }

// PaidKey returns the session key for the full-access flag.
func (s ServiceConfig) PaidKey() string {
	return "hasUserPaidFor" + upperFirst(s.KeyPrefix) + "_" + s.TierTag
}

// upperFirst capitalizes the first byte of an ASCII key prefix.
func upperFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// Catalog is the fixed set of services.
type Catalog struct {
	services []ServiceConfig
	byID     map[string]ServiceConfig
}

// New builds a catalog from the given services.
func New(services []ServiceConfig) *Catalog {
	c := &Catalog{byID: make(map[string]ServiceConfig, len(services))}
	for _, svc := range services {
		c.services = append(c.services, svc)
		c.byID[svc.ID] = svc
	}
	return c
}

// Get looks up a service by id.
func (c *Catalog) Get(id string) (ServiceConfig, error) {
	svc, ok := c.byID[id]
	if !ok {
		return ServiceConfig{}, ErrServiceNotFound
	}
	return svc, nil
}

// List returns all services in declaration order.
func (c *Catalog) List() []ServiceConfig {
	out := make([]ServiceConfig, len(c.services))
	copy(out, c.services)
	return out
}

// defaultPrizeTable is the standard 3-outcome wheel.
func defaultPrizeTable() []Prize {
	return []Prize{
		{Kind: PrizeExtraSpins, Count: 3, Weight: 0.20, Label: "3 giros extra"},
		{Kind: PrizeFullUnlock, Weight: 0.15, Label: "Acceso premium completo"},
		{Kind: PrizeTryAgain, Weight: 0.65, Label: "Inténtalo de nuevo"},
	}
}

// consultationPrizeTable substitutes bonus consultations for extra spins.
func consultationPrizeTable(n int) []Prize {
	return []Prize{
		{Kind: PrizeBonusConsultations, Count: n, Weight: 0.20, Label: "Consultas de regalo"},
		{Kind: PrizeFullUnlock, Weight: 0.15, Label: "Acceso premium completo"},
		{Kind: PrizeTryAgain, Weight: 0.65, Label: "Inténtalo de nuevo"},
	}
}

// Default returns the production catalog: the five advisory services.
func Default(freeLimit int) *Catalog {
	if freeLimit <= 0 {
		freeLimit = 3
	}
	return New([]ServiceConfig{
		{
			ID:   "numerology",
			Name: "Numerología",
			Persona: PersonaConfig{
				Name:         "Maestra Sofía",
				Description:  "Guía numerológica que interpreta las vibraciones de tus números",
				ErrorMessage: "Las energías están turbulentas en este momento... Por favor, vuelve a intentarlo en unos instantes.",
			},
			KeyPrefix:  "numerology",
			TierTag:    "full",
			BonusKey:   "freeNumerologyConsultations",
			FreeLimit:  freeLimit,
			PriceCents: 499,
			Currency:   "EUR",
			PrizeTable: defaultPrizeTable(),
			Welcomes: []string{
				"Bienvenido. Los números guardan el mapa de tu destino. Cuéntame tu fecha de nacimiento y comenzamos.",
				"Hola, soy Sofía. Cada número vibra con un mensaje para ti. ¿Qué quieres descubrir hoy?",
			},
			BonusGrant: 3,
		},
		{
			ID:   "zodiac",
			Name: "Signos del Zodiaco",
			Persona: PersonaConfig{
				Name:         "Astra",
				Description:  "Astróloga dedicada a los doce signos y sus tránsitos",
				ErrorMessage: "Los astros se han nublado por un momento... Inténtalo de nuevo enseguida.",
			},
			KeyPrefix:  "zodiac",
			TierTag:    "full",
			BonusKey:   "freeZodiacConsultations",
			FreeLimit:  freeLimit,
			PriceCents: 499,
			Currency:   "EUR",
			PrizeTable: defaultPrizeTable(),
			Welcomes: []string{
				"Hola, soy Astra. Dime tu signo y te contaré lo que los cielos preparan para ti.",
				"Bienvenido al observatorio. ¿Sobre qué signo quieres consultar hoy?",
			},
			BonusGrant: 3,
		},
		{
			ID:   "birthchart",
			Name: "Carta Astral",
			Persona: PersonaConfig{
				Name:         "Orión",
				Description:  "Intérprete de cartas astrales completas",
				ErrorMessage: "No he podido trazar tu carta en este instante... Dame un momento y vuelve a preguntar.",
			},
			KeyPrefix:  "birthChart",
			TierTag:    "full",
			BonusKey:   "freeBirthChartConsultations",
			FreeLimit:  freeLimit,
			PriceCents: 699,
			Currency:   "EUR",
			PrizeTable: defaultPrizeTable(),
			Welcomes: []string{
				"Soy Orión. Con tu fecha, hora y lugar de nacimiento puedo leer el cielo de tu primer aliento.",
			},
			BonusGrant: 3,
		},
		{
			ID:   "animaltotem",
			Name: "Animal Totém",
			Persona: PersonaConfig{
				Name:         "Nahual",
				Description:  "Guía espiritual de los animales de poder",
				ErrorMessage: "Los espíritus del bosque guardan silencio ahora mismo... Vuelve a llamarlos en un momento.",
			},
			KeyPrefix:  "animalTotem",
			TierTag:    "full",
			BonusKey:   "freeAnimalTotemConsultations",
			FreeLimit:  freeLimit,
			PriceCents: 499,
			Currency:   "EUR",
			PrizeTable: defaultPrizeTable(),
			Welcomes: []string{
				"Bienvenido al círculo. Cada persona camina junto a un animal de poder. ¿Quieres descubrir el tuyo?",
			},
			BonusGrant: 3,
		},
		{
			ID:   "dreams",
			Name: "Interpretación de Sueños",
			Persona: PersonaConfig{
				Name:         "Morfeo",
				Description:  "Intérprete de sueños y símbolos nocturnos",
				ErrorMessage: "El velo de los sueños se ha cerrado un instante... Cuéntamelo de nuevo en un momento.",
			},
			KeyPrefix:  "dream",
			TierTag:    "full",
			BonusKey:   "dreamConsultations",
			FreeLimit:  freeLimit,
			PriceCents: 499,
			Currency:   "EUR",
			PrizeTable: consultationPrizeTable(3),
			Welcomes: []string{
				"Soy Morfeo. Cuéntame tu sueño tal como lo recuerdes, sin ordenar nada. Los detalles confusos también hablan.",
			},
			BonusGrant: 3,
		},
	})
}
