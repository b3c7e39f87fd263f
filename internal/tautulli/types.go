package tautulli

// WatchTimeStat is one row of get_user_watch_time_stats.
type WatchTimeStat struct {
	QueryDays  int   `json:"query_days"`
	TotalTime  int64 `json:"total_time"`
	TotalPlays int64 `json:"total_plays"`
}

type apiResponse[T any] struct {
	Response struct {
		Result  string `json:"result"`
		Message string `json:"message"`
		Data    T      `json:"data"`
	} `json:"response"`
}
