package database

// Article is a collected news article.
type Article struct {
	ID             int64
	URL            string
	Title          string
	Subtitle       *string
	Author         string
	Content        *string
	ContentFetched bool
	PublishedAt    *string
	SourceID       *int64
	SourceName     *string
	IndexedAt      *string
	CreatedAt      *string
}

// ArticleInput holds the fields supplied when storing a new article.
type ArticleInput struct {
	URL         string
	Title       string
	Subtitle    *string
	Author      string
	Content     *string
	PublishedAt *string
	SourceID    *int64
	SourceName  *string
}

// ScoredArticle is an article with its cosine similarity to a query vector.
type ScoredArticle struct {
	Article
	Similarity float64
}

// Scores are the four 0-10 credibility dimensions of an analysis.
type Scores struct {
	FactualConsistency int `json:"factual_consistency"`
	LinguisticBias     int `json:"linguistic_bias"`
	Sensationalism     int `json:"sensationalism"`
	SourceCredibility  int `json:"source_credibility"`
}

// Analysis is the misinformation assessment of one article.
type Analysis struct {
	ID         int64
	ArticleID  int64
	IsFake     bool
	Confidence float64
	Reasoning  string
	Markers    []string
	Scores     Scores
	AnalyzedAt *string
}

// Verification is one answered claim. Evidence holds article ids.
type Verification struct {
	ID         int64
	UserID     string
	Claim      string
	Verdict    string
	Confidence int
	Analysis   string
	Evidence   []int64
	Quotes     []string
	CreatedAt  *string
}

// Source is a news outlet.
type Source struct {
	ID          int64
	Name        string
	DisplayName string
	WebsiteURL  *string
	Status      string
	LastChecked *string
	IsActive    bool
}

// RSSFeed is one feed of a source.
type RSSFeed struct {
	ID          int64
	SourceID    int64
	SourceName  string
	URL         string
	Name        *string
	FeedType    string
	Category    *string
	IsActive    bool
	LastFetched *string
	FetchCount  int
	ErrorCount  int
	LastError   *string
}

// Stats contains aggregate database statistics.
type Stats struct {
	TotalArticles    int
	IndexedArticles  int
	AnalyzedArticles int
	FakeArticles     int
	Verifications    int
	Sources          int
	ActiveFeeds      int
}
