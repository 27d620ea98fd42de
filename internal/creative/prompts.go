package creative

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	gameDesignerSystem = "You are a creative video game designer specializing in 2D games."
	gameCoderSystem    = "You are an expert JavaScript game developer specializing in HTML5 canvas games."
	composerSystem     = "You are a skilled music composer with expertise in multiple genres."
	midiSystem         = "You are an expert music composer and MIDI programmer."
)

func codeReviewPrompt(language string) string {
	return fmt.Sprintf(`You are a code review expert.
Review the following %s code and check for errors, bugs, or potential issues.
Respond in JSON format with the following structure:
{
  "isValid": boolean,
  "suggestions": string[],
  "errorMessage": string (if applicable)
}`, language)
}

func gameConceptPrompt(prompt string) string {
	return fmt.Sprintf(`Create a fun and engaging 2D game concept based on this prompt: %q.
Respond in JSON format with the following structure:
{
  "title": string,
  "description": string,
  "gameType": string,
  "mainCharacter": string,
  "objective": string,
  "visualStyle": string
}`, prompt)
}

func gameCodePrompt(c gameConcept) string {
	return fmt.Sprintf(`Create a playable HTML5 canvas game based on this concept:
Title: %s
Description: %s
Game Type: %s
Main Character: %s
Objective: %s
Visual Style: %s

Use freely licensed sprites, sounds and backgrounds, and preload all assets before starting the game.
Generate a complete, playable HTML and JavaScript game using the Canvas API.
The game should be fun, bug-free, and fully functional in a modern browser.
Include simple controls (arrow keys or WASD).
Make sure to include complete JS, CSS, and HTML needed to run the game.
Include helpful comments in the code.`,
		c.Title, c.Description, c.GameType, c.MainCharacter, c.Objective, c.VisualStyle)
}

func gameThumbnailPrompt(c gameConcept) string {
	return fmt.Sprintf("Create a vibrant, appealing thumbnail image for a 2D game titled %q. The game is a %s with %s style. It features %s as the main character. The image should capture the essence and visual style of the game.",
		c.Title, c.GameType, c.VisualStyle, c.MainCharacter)
}

func musicConceptPrompt(prompt string, duration int, genre string) string {
	genreContext := ""
	if genre != "" {
		genreContext = fmt.Sprintf(" in the %s genre", genre)
	}
	return fmt.Sprintf(`Create a musical composition concept based on this prompt: %q%s.
The piece should be approximately %d seconds long.
Respond in JSON format with the following structure:
{
  "title": string,
  "description": string,
  "mood": string,
  "instruments": string[],
  "tempo": string,
  "structure": string
}`, prompt, genreContext, duration)
}

func compositionPrompt(c musicConcept) string {
	return fmt.Sprintf(`Create a detailed MIDI composition description for this music concept:
Title: %s
Description: %s
Mood: %s
Instruments: %s
Tempo: %s
Structure: %s

Provide a measure-by-measure breakdown with notes, chord progressions, and dynamics.
This should be detailed enough that a musician could recreate the piece.`,
		c.Title, c.Description, c.Mood, strings.Join(c.Instruments, ", "), c.Tempo, c.Structure)
}

var nonSlug = regexp.MustCompile(`[^\p{L}\p{M}\p{N}]+`)

// slug lowercases title and joins its words with '-'.
func slug(title string) string {
	s := strings.Trim(nonSlug.ReplaceAllString(strings.ToLower(title), "-"), "-")
	if s == "" {
		return "untitled"
	}
	return s
}
