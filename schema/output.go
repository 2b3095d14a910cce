package schema

// HeaderMarker prefixes a section header line in surface output.
const HeaderMarker = "\x1e"

// HelpMarker prefixes command help lines.
const HelpMarker = "\x16"

// SentMarker prefixes text the user submitted from a surface.
const SentMarker = "\x1c"

// StatusMarker prefixes dim informational lines.
const StatusMarker = "\x1a"
