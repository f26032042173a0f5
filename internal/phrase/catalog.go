package phrase

// catalog order defines match priority. The last entry is the keyword-less
// fallback.
var catalog = []Category{
	{
		Name:     "email",
		Keywords: []string{"email", "e-mail", "mail", "inbox", "gmail"},
		Initial: []string{
			"Checking your inbox... ",
			"Pulling up your emails... ",
			"Let me look at your mail... ",
		},
		KeepAlive: []string{
			"Still going through your inbox... ",
			"Almost there, just sorting your messages... ",
		},
	},
	{
		Name:     "calendar",
		Keywords: []string{"calendar", "schedule", "meeting", "appointment", "agenda", "event"},
		Initial: []string{
			"Let me check your calendar... ",
			"Pulling up your schedule... ",
			"Taking a look at your agenda... ",
		},
		KeepAlive: []string{
			"Still checking your schedule... ",
			"One moment, your calendar is loading... ",
		},
	},
	{
		Name:     "weather",
		Keywords: []string{"weather", "forecast", "temperature", "rain", "sunny"},
		Initial: []string{
			"Let me check the weather... ",
			"Getting the forecast... ",
		},
		KeepAlive: []string{
			"Still fetching the forecast... ",
			"Almost got the weather for you... ",
		},
	},
	{
		Name:     "messaging",
		Keywords: []string{"messag", "text", "sms", "telegram", "slack"},
		Initial: []string{
			"Checking your messages... ",
			"Let me look at your chats... ",
		},
		KeepAlive: []string{
			"Still going through your messages... ",
			"One moment, reading your chats... ",
		},
	},
	{
		Name:     "tasks",
		Keywords: []string{"task", "todo", "to-do", "remind"},
		Initial: []string{
			"Pulling up your tasks... ",
			"Let me check your to-do list... ",
		},
		KeepAlive: []string{
			"Still sorting your tasks... ",
			"Almost done with your list... ",
		},
	},
	{
		Name:     "health",
		Keywords: []string{"health", "steps", "workout", "sleep", "heart rate", "calories"},
		Initial: []string{
			"Checking your health data... ",
			"Let me pull up your stats... ",
		},
		KeepAlive: []string{
			"Still crunching your health data... ",
			"Almost there with your stats... ",
		},
	},
	{
		Name:     "crypto",
		Keywords: []string{"crypto", "bitcoin", "btc", "ethereum", "price of", "stock"},
		Initial: []string{
			"Checking the markets... ",
			"Let me look at the prices... ",
		},
		KeepAlive: []string{
			"Still watching the ticker... ",
			"Almost got those prices... ",
		},
	},
	{
		Name:     "search",
		Keywords: []string{"search", "look up", "google", "find out", "who is", "what is", "news"},
		Initial: []string{
			"Let me look that up... ",
			"Searching for that now... ",
			"Give me a second to find that... ",
		},
		KeepAlive: []string{
			"Still searching... ",
			"Almost found it... ",
		},
	},
	{
		Name:     "code",
		Keywords: []string{"code", "github", "repo", "deploy", "pull request"},
		Initial: []string{
			"Let me look at the code... ",
			"Digging into that now... ",
		},
		KeepAlive: []string{
			"Still working through the code... ",
			"Almost done digging... ",
		},
	},
	{
		Name:     "notes",
		Keywords: []string{"note", "write down", "jot"},
		Initial: []string{
			"Pulling up your notes... ",
			"Let me find that note... ",
		},
		KeepAlive: []string{
			"Still flipping through your notes... ",
			"Almost found the right note... ",
		},
	},
	{
		Name:     "browser",
		Keywords: []string{"browser", "website", "web page", "browse", "url"},
		Initial: []string{
			"Opening that up... ",
			"Let me browse to that... ",
		},
		KeepAlive: []string{
			"Still loading the page... ",
			"Almost got it open... ",
		},
	},
	{
		Name:     "memory",
		Keywords: []string{"remember", "memory", "recall", "forget"},
		Initial: []string{
			"Let me think back... ",
			"Recalling that now... ",
		},
		KeepAlive: []string{
			"Still jogging my memory... ",
			"Almost remembered... ",
		},
	},
	{
		Name:     "file",
		Keywords: []string{"file", "document", "folder", "download"},
		Initial: []string{
			"Looking for that file... ",
			"Let me check your files... ",
		},
		KeepAlive: []string{
			"Still digging through the files... ",
			"Nearly got the file... ",
		},
	},
	{
		Name:     "music",
		Keywords: []string{"music", "song", "playlist", "spotify", "play some"},
		Initial: []string{
			"Getting your music ready... ",
			"Let me queue that up... ",
		},
		KeepAlive: []string{
			"Still lining up the track... ",
			"Almost playing... ",
		},
	},
	{
		Name:     "image",
		Keywords: []string{"image", "picture", "photo", "draw"},
		Initial: []string{
			"Working on that image... ",
			"Let me put that picture together... ",
		},
		KeepAlive: []string{
			"Still rendering the image... ",
			"Almost done drawing... ",
		},
	},
	{
		Name:     "voice",
		Keywords: []string{"voice", "speak louder", "speak slower", "volume"},
		Initial: []string{
			"Adjusting the voice settings... ",
			"Let me tweak that... ",
		},
		KeepAlive: []string{
			"Still adjusting... ",
			"Almost set... ",
		},
	},
	{
		Name:     "whatsapp",
		Keywords: []string{"whatsapp"},
		Initial: []string{
			"Checking WhatsApp... ",
			"Let me open WhatsApp... ",
		},
		KeepAlive: []string{
			"Still looking at WhatsApp... ",
			"One second, WhatsApp is being slow... ",
		},
	},
	{
		Name:     "twitter",
		Keywords: []string{"twitter", "tweet"},
		Initial: []string{
			"Checking Twitter... ",
			"Let me see what's trending... ",
		},
		KeepAlive: []string{
			"Still scrolling the feed... ",
			"Almost caught up... ",
		},
	},
	{
		Name: "fallback",
		Initial: []string{
			"Let me think about that... ",
			"One moment... ",
			"Working on it... ",
			"Give me a second... ",
		},
		KeepAlive: []string{
			"Still working on it... ",
			"Almost there... ",
			"Just a little longer... ",
		},
	},
}
