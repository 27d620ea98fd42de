package storage

import "time"

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"

	LanguageEnglish  = "english"
	LanguageHindi    = "hindi"
	LanguageHinglish = "hinglish"

	DefaultBotName = "Desi AI"
)

type User struct {
	ID                       int64      `json:"id"`
	FirebaseID               string     `json:"firebaseId"`
	Email                    string     `json:"email"`
	Username                 string     `json:"username"`
	DisplayName              string     `json:"displayName"`
	BotName                  string     `json:"botName"`
	IsPremium                bool       `json:"isPremium"`
	PremiumExpiresAt         *time.Time `json:"premiumExpiresAt"`
	ImageGenerationCount     int        `json:"imageGenerationCount"`
	LastImageGenerationReset *time.Time `json:"lastImageGenerationReset"`
	PreferredLanguage        string     `json:"preferredLanguage"`
	IsOwner                  bool       `json:"isOwner"`
	// EncPaypalEmail holds a crypto envelope, never plaintext.
	EncPaypalEmail *string   `json:"-"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

type UserPatch struct {
	DisplayName       *string
	BotName           *string
	PreferredLanguage *string
	EncPaypalEmail    *string
}

type ChatSession struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"userId"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type Message struct {
	ID        int64     `json:"id"`
	ChatID    int64     `json:"chatId"`
	Content   string    `json:"content"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"timestamp"`
}

type MemoryItem struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"userId"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

type FileUpload struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"userId"`
	Filename  string    `json:"filename"`
	FileType  string    `json:"fileType"`
	FilePath  string    `json:"filePath"`
	CreatedAt time.Time `json:"createdAt"`
}

type GeneratedImage struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"userId"`
	Prompt    string    `json:"prompt"`
	ImageURL  string    `json:"imageUrl"`
	CreatedAt time.Time `json:"createdAt"`
}

type GeneratedGame struct {
	ID           int64     `json:"id"`
	UserID       int64     `json:"userId"`
	Prompt       string    `json:"prompt"`
	Title        string    `json:"title"`
	Description  string    `json:"description"`
	GameCode     string    `json:"gameCode"`
	GameURL      string    `json:"gameUrl"`
	ThumbnailURL string    `json:"thumbnailUrl"`
	CreatedAt    time.Time `json:"createdAt"`
}

type GeneratedMusic struct {
	ID          int64     `json:"id"`
	UserID      int64     `json:"userId"`
	Prompt      string    `json:"prompt"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	MusicURL    string    `json:"musicUrl"`
	Duration    int       `json:"duration"`
	CreatedAt   time.Time `json:"createdAt"`
}

type Feedback struct {
	ID           int64     `json:"id"`
	UserID       int64     `json:"userId"`
	ChatID       int64     `json:"chatId"`
	FeedbackType string    `json:"feedbackType"`
	Message      string    `json:"message"`
	CreatedAt    time.Time `json:"createdAt"`
}

type AuditEntry struct {
	UserID   int64
	Action   string
	MetaJSON string
}

func ValidLanguage(lang string) bool {
	switch lang {
	case LanguageEnglish, LanguageHindi, LanguageHinglish:
		return true
	default:
		return false
	}
}
