package models

import "time"

// ActivityTimeLayout is how activity timestamps are written.
const ActivityTimeLayout = "2006-01-02 15:04:05"

// Activity is one span of computer activity: an application in the
// foreground for TimeSpan seconds ending at EndTime.
type Activity struct {
	UserID          string `json:"user_id"`
	ApplicationID   string `json:"application_id"`
	StartTime       string `json:"start_time"`
	EndTime         string `json:"end_time"`
	TimeSpan        int64  `json:"time_span"`
	WindowTitleID   string `json:"window_title_id"`
	ApplicationName string `json:"application_name"`
	WindowTitle     string `json:"window_title"`
	UserGroupName   string `json:"user_group_name"`
	UserEmail       string `json:"user_email"`
	UserName        string `json:"user_name"`
	CategoryName    string `json:"category_name"`
}

// NoCategory names applications without a known category.
const NoCategory = "No category"

var categories = map[string]string{
	"0":  NoCategory,
	"1":  "Office",
	"2":  "Developer Tools",
	"3":  "Chat, VoIP & Email",
	"4":  "Graphic & Design",
	"5":  "Home",
	"6":  "Productivity",
	"7":  "Utilities & Tools",
	"8":  "Audio & Video",
	"9":  "Games",
	"10": "Education",
	"11": "Fun",
	"12": "News & Blogs",
	"13": "Reference & Search",
	"14": "Shopping",
	"15": "Social Networking",
	"16": "Travel & Outdoors",
	"17": "Business",
	"18": "Hobby",
}

// CategoryName maps an application category id to its label.
func CategoryName(id string) string {
	if name, ok := categories[id]; ok {
		return name
	}
	return NoCategory
}

// ActivityStart derives the start of a span from its end and length in
// seconds. Unparseable end times give "".
func ActivityStart(end string, span int64) string {
	t, err := time.Parse(ActivityTimeLayout, end)
	if err != nil {
		return ""
	}
	return t.Add(-time.Duration(span) * time.Second).Format(ActivityTimeLayout)
}
