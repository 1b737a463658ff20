package common

// DefaultDomain is the TimeCamp tenant host used when none is configured.
const DefaultDomain = "app.timecamp.com"

// OptFields lists the optional entry fields always requested from the source.
const OptFields = "tags,breadcrumps"

// SeqColumn is the staging-only column carrying the stream ordinal of a record.
const SeqColumn = "_seq"

// DateLayout is the calendar date layout used on the wire and in file names.
const DateLayout = "2006-01-02"
