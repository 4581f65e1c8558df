package cache

import "fmt"

func JobStatusKey(jobID int64) string {
	return fmt.Sprintf("job:%d:status", jobID)
}

func SlugKey(slug string) string {
	return fmt.Sprintf("job:slug:%s", slug)
}

func RateLimitKey(keyPrefix string) string {
	return fmt.Sprintf("ratelimit:%s", keyPrefix)
}
