package jobqueue

import redis "github.com/redis/go-redis/v9"

// KEYS: jobs, wait, attempts. ARGV: id, body, ready_at_ms.
const enqueueScript = `
if redis.call("HEXISTS", KEYS[1], ARGV[1]) == 1 then
  return 0
end
redis.call("HSET", KEYS[1], ARGV[1], ARGV[2])
redis.call("HDEL", KEYS[3], ARGV[1])
redis.call("ZADD", KEYS[2], ARGV[3], ARGV[1])
return 1
`

// Leases the oldest ready job to the caller's token and counts the attempt.
// KEYS: jobs, wait, active, leases, attempts. ARGV: now_ms, lease_deadline_ms, token.
const claimScript = `
local ids = redis.call("ZRANGEBYSCORE", KEYS[2], "-inf", ARGV[1], "LIMIT", 0, 1)
if #ids == 0 then
  return false
end
local id = ids[1]
redis.call("ZREM", KEYS[2], id)
local body = redis.call("HGET", KEYS[1], id)
if not body then
  return false
end
redis.call("ZADD", KEYS[3], ARGV[2], id)
redis.call("HSET", KEYS[4], id, ARGV[3])
local attempts = redis.call("HINCRBY", KEYS[5], id, 1)
return {body, attempts}
`

// Returns a leased job to the wait set. Fails with 0 when the token no
// longer holds the lease.
// KEYS: jobs, active, wait, leases. ARGV: id, body, ready_at_ms, token.
const retryScript = `
if redis.call("HGET", KEYS[4], ARGV[1]) ~= ARGV[4] then
  return 0
end
redis.call("ZREM", KEYS[2], ARGV[1])
redis.call("HDEL", KEYS[4], ARGV[1])
redis.call("HSET", KEYS[1], ARGV[1], ARGV[2])
redis.call("ZADD", KEYS[3], ARGV[3], ARGV[1])
return 1
`

// Moves a leased job to a bounded retention list (completed or failed).
// Jobs trimmed off the list are forgotten, which re-opens their key.
// KEYS: jobs, active, list, leases, attempts. ARGV: id, body, retention, token.
const finishScript = `
if redis.call("HGET", KEYS[4], ARGV[1]) ~= ARGV[4] then
  return 0
end
redis.call("ZREM", KEYS[2], ARGV[1])
redis.call("HDEL", KEYS[4], ARGV[1])
redis.call("HSET", KEYS[1], ARGV[1], ARGV[2])
redis.call("LPUSH", KEYS[3], ARGV[1])
local limit = tonumber(ARGV[3])
while redis.call("LLEN", KEYS[3]) > limit do
  local old = redis.call("RPOP", KEYS[3])
  redis.call("HDEL", KEYS[1], old)
  redis.call("HDEL", KEYS[5], old)
end
return 1
`

type scripts struct {
	enqueue *redis.Script
	claim   *redis.Script
	retry   *redis.Script
	finish  *redis.Script
}

func newScripts() scripts {
	return scripts{
		enqueue: redis.NewScript(enqueueScript),
		claim:   redis.NewScript(claimScript),
		retry:   redis.NewScript(retryScript),
		finish:  redis.NewScript(finishScript),
	}
}
