package sshserver

import (
	"sort"
	"strconv"
)

type rgb struct {
	r int
	g int
	b int
}

type tuiTheme struct {
	Name       string
	BarBG      rgb
	BarFG      rgb
	AccentBG   rgb
	AccentFG   rgb
	ErrorFG    rgb
	MetaFG     rgb
	PromptFG   rgb
	PendingFG  rgb
	SentFG     rgb
	HeaderFG   rgb
	HelpFG     rgb
	SelectedBG rgb
	SelectedFG rgb
}

const (
	ansiReset     = "\x1b[0m"
	ansiBold      = "\x1b[1m"
	ansiDim       = "\x1b[2m"
	ansiItalic    = "\x1b[3m"
	ansiUnderline = "\x1b[4m"
)

// defaultTheme is used when the configured name is unknown.
const defaultTheme = "outrun"

var tuiThemes = map[string]tuiTheme{
	"outrun": {
		Name:       "outrun",
		BarBG:      rgb{r: 32, g: 8, b: 56},
		BarFG:      rgb{r: 240, g: 241, b: 255},
		AccentBG:   rgb{r: 0, g: 229, b: 255},
		AccentFG:   rgb{r: 10, g: 13, b: 23},
		ErrorFG:    rgb{r: 255, g: 107, b: 107},
		MetaFG:     rgb{r: 154, g: 163, b: 178},
		PromptFG:   rgb{r: 255, g: 255, b: 255},
		PendingFG:  rgb{r: 255, g: 91, b: 189},
		SentFG:     rgb{r: 112, g: 214, b: 255},
		HeaderFG:   rgb{r: 110, g: 136, b: 255},
		HelpFG:     rgb{r: 154, g: 182, b: 255},
		SelectedBG: rgb{r: 60, g: 79, b: 184},
		SelectedFG: rgb{r: 255, g: 255, b: 255},
	},
	"gruvbox": {
		Name:       "gruvbox",
		BarBG:      rgb{r: 60, g: 56, b: 54},
		BarFG:      rgb{r: 235, g: 219, b: 178},
		AccentBG:   rgb{r: 250, g: 189, b: 47},
		AccentFG:   rgb{r: 40, g: 40, b: 40},
		ErrorFG:    rgb{r: 251, g: 73, b: 52},
		MetaFG:     rgb{r: 146, g: 131, b: 116},
		PromptFG:   rgb{r: 255, g: 255, b: 255},
		PendingFG:  rgb{r: 214, g: 93, b: 14},
		SentFG:     rgb{r: 131, g: 165, b: 152},
		HeaderFG:   rgb{r: 250, g: 189, b: 47},
		HelpFG:     rgb{r: 131, g: 165, b: 152},
		SelectedBG: rgb{r: 75, g: 110, b: 166},
		SelectedFG: rgb{r: 235, g: 219, b: 178},
	},
	"tokyo-midnight": {
		Name:       "tokyo-midnight",
		BarBG:      rgb{r: 26, g: 27, b: 38},
		BarFG:      rgb{r: 192, g: 202, b: 245},
		AccentBG:   rgb{r: 122, g: 162, b: 247},
		AccentFG:   rgb{r: 26, g: 27, b: 38},
		ErrorFG:    rgb{r: 247, g: 118, b: 142},
		MetaFG:     rgb{r: 127, g: 133, b: 163},
		PromptFG:   rgb{r: 255, g: 255, b: 255},
		PendingFG:  rgb{r: 187, g: 154, b: 247},
		SentFG:     rgb{r: 158, g: 206, b: 106},
		HeaderFG:   rgb{r: 122, g: 162, b: 247},
		HelpFG:     rgb{r: 125, g: 207, b: 255},
		SelectedBG: rgb{r: 59, g: 79, b: 159},
		SelectedFG: rgb{r: 255, g: 255, b: 255},
	},
}

func themeForName(name string) tuiTheme {
	if theme, ok := tuiThemes[name]; ok {
		return theme
	}
	return tuiThemes[defaultTheme]
}

// ThemeNames lists the themes the terminal surface knows.
func ThemeNames() []string {
	names := make([]string, 0, len(tuiThemes))
	for name := range tuiThemes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func ansiFgRGB(c rgb) string {
	return "\x1b[38;2;" + strconv.Itoa(c.r) + ";" + strconv.Itoa(c.g) + ";" + strconv.Itoa(c.b) + "m"
}

func ansiBgRGB(c rgb) string {
	return "\x1b[48;2;" + strconv.Itoa(c.r) + ";" + strconv.Itoa(c.g) + ";" + strconv.Itoa(c.b) + "m"
}
