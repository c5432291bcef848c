package redis

import goredis "github.com/redis/go-redis/v9"

// Lua scripts for the topic index. Each one is a single atomic mutation of the
// reciprocal sets; go-redis runs them with EVALSHA and falls back to EVAL.

// subscribeScript adds the connection to the topic set, the topic to the
// connection set and the topic name to the global set, then refreshes the TTL
// on all three. Returns 1 if the connection was newly added.
// KEYS: [1]=topic set, [2]=conn set, [3]=global topics set
// ARGV: [1]=conn id, [2]=topic, [3]=ttl seconds
var subscribeScript = goredis.NewScript(`
local added = redis.call('SADD', KEYS[1], ARGV[1])
redis.call('SADD', KEYS[2], ARGV[2])
redis.call('SADD', KEYS[3], ARGV[2])
redis.call('EXPIRE', KEYS[1], ARGV[3])
redis.call('EXPIRE', KEYS[2], ARGV[3])
redis.call('EXPIRE', KEYS[3], ARGV[3])
return added
`)

// unsubscribeScript removes one membership from both sides. An emptied topic
// set is deleted and its name leaves the global set; otherwise its TTL is
// refreshed. Returns 1 if the connection was a member.
// KEYS: [1]=topic set, [2]=conn set, [3]=global topics set
// ARGV: [1]=conn id, [2]=topic, [3]=ttl seconds
var unsubscribeScript = goredis.NewScript(`
local removed = redis.call('SREM', KEYS[1], ARGV[1])
if removed == 1 then
  redis.call('SREM', KEYS[2], ARGV[2])
end
if redis.call('SCARD', KEYS[1]) == 0 then
  redis.call('DEL', KEYS[1])
  redis.call('SREM', KEYS[3], ARGV[2])
else
  redis.call('EXPIRE', KEYS[1], ARGV[3])
end
return removed
`)

// unsubscribeAllScript drops every membership of one or more connections in a
// single call. Per-topic keys are only known after reading a conn set, so they
// are derived from the hash-tagged base and share the slot of KEYS[1].
// Returns the number of memberships removed.
// KEYS: [1]=global topics set, [2..n]=conn sets
// ARGV: [1]=key base ("{ws}:"), [2..n]=conn ids in KEYS order
var unsubscribeAllScript = goredis.NewScript(`
local base = ARGV[1]
local total = 0
for i = 2, #KEYS do
  local connKey = KEYS[i]
  local id = ARGV[i]
  local topics = redis.call('SMEMBERS', connKey)
  for _, topic in ipairs(topics) do
    local topicKey = base .. 'topic:' .. topic
    total = total + redis.call('SREM', topicKey, id)
    if redis.call('SCARD', topicKey) == 0 then
      redis.call('SREM', KEYS[1], topic)
    end
  end
  redis.call('DEL', connKey)
end
return total
`)

// touchScript pushes out the expiry of live connections: each conn set, every
// topic set it points at and the global set. EXPIRE on a missing key is a
// no-op, so a connection cleaned up concurrently is never resurrected.
// Returns the number of conn sets that still existed.
// KEYS: [1]=global topics set, [2..n]=conn sets
// ARGV: [1]=key base, [2]=ttl seconds
var touchScript = goredis.NewScript(`
local base = ARGV[1]
local ttl = ARGV[2]
local live = 0
for i = 2, #KEYS do
  if redis.call('EXPIRE', KEYS[i], ttl) == 1 then
    live = live + 1
    for _, topic in ipairs(redis.call('SMEMBERS', KEYS[i])) do
      redis.call('EXPIRE', base .. 'topic:' .. topic, ttl)
    end
  end
end
if live > 0 then
  redis.call('EXPIRE', KEYS[1], ttl)
end
return live
`)

// sweepScript finds names in the global set whose subscriber set no longer
// exists (expired after a node crash) and, unless ARGV[2] is "1", removes them.
// Returns the stale names.
// KEYS: [1]=global topics set
// ARGV: [1]=key base, [2]=dry run flag
var sweepScript = goredis.NewScript(`
local stale = {}
for _, topic in ipairs(redis.call('SMEMBERS', KEYS[1])) do
  if redis.call('EXISTS', ARGV[1] .. 'topic:' .. topic) == 0 then
    table.insert(stale, topic)
  end
end
if ARGV[2] ~= '1' then
  for _, topic in ipairs(stale) do
    redis.call('SREM', KEYS[1], topic)
  end
end
return stale
`)

// releaseLockScript deletes a lock only while the caller still holds it.
// KEYS: [1]=lock key
// ARGV: [1]=holder id
var releaseLockScript = goredis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

// renewLockScript extends a lock only while the caller still holds it.
// KEYS: [1]=lock key
// ARGV: [1]=holder id, [2]=ttl milliseconds
var renewLockScript = goredis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`)
